package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"studysync/internal/app"
	"studysync/internal/auth"
	"studysync/internal/config"
	"studysync/internal/database"
	"studysync/internal/logger"
	"studysync/internal/passage"
	"studysync/internal/session"
	dbconfig "studysync/pkg/database"
	"studysync/pkg/types"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "studysync",
		Short:         "Live group-study session synchronization server",
		Long:          "HTTP + WebSocket server. Commands: serve (default), migrate, study, token.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (json, yaml or toml)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newStudyCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	application, err := app.NewApplication(cfg, log)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return application.Run(ctx)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and validate the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			store, err := database.Open(cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if m, ok := store.(*database.Manager); ok {
				if err := dbconfig.NewSchemaValidator(m.DB()).Validate(); err != nil {
					return fmt.Errorf("schema validation failed: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Database.Driver)
			return nil
		},
	}
}

func newStudyCmd(opts *rootOptions) *cobra.Command {
	study := &cobra.Command{
		Use:   "study",
		Short: "Manage persisted studies",
	}

	var (
		teacher   string
		reference string
		ttl       time.Duration
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a study and print its id and join code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			store, err := database.Open(cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			passages := passage.NewClient(passage.Options{
				BaseURL: cfg.Passage.BaseURL,
				Timeout: cfg.Passage.Timeout,
				Cache:   passage.NewLRUCache(1, cfg.Passage.CacheTTL),
				Logger:  log,
			})
			st, err := session.NewManager(store, passages, log).CreateStudy(cmd.Context(), session.CreateParams{
				TeacherUserID: teacher,
				Reference:     reference,
				TTL:           ttl,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	create.Flags().StringVar(&teacher, "teacher", "", "teacher user id")
	create.Flags().StringVar(&reference, "reference", "", `passage reference, e.g. "Romans 8:28"`)
	create.Flags().DurationVar(&ttl, "ttl", 0, "study lifetime (0 for no expiry)")
	_ = create.MarkFlagRequired("teacher")
	_ = create.MarkFlagRequired("reference")

	study.AddCommand(create)
	return study
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed identity token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			r, err := types.ParseRole(role)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(types.Identity{UserID: userID, Role: r}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "participant", "teacher or participant")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
