package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	dbconfig "studysync/pkg/database"
	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

var ErrManagerClosed = errors.New("database manager is closed")

// Manager is the SQLite study store. Reads run concurrently on the pool;
// every write goes through one goroutine so SQLite never sees competing
// writers.
type Manager struct {
	db           *sql.DB
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	retryDelay   time.Duration

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pending migrations and starts the
// writer goroutine.
func NewManager(cfg *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := dbconfig.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	applied, err := dbconfig.NewMigrationManager(db, dbconfig.Migrations()).ApplyMigrations()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("database migrations applied", zap.Strings("versions", applied))
	}

	m := &Manager{
		db:           db,
		logger:       logger,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   time.Second,
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

// writeLoop retries a failed write once; constraint violations are final.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && retryable(err) {
				m.logger.Warn("database write failed, retrying", zap.Duration("delay", m.retryDelay), zap.Error(err))
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, interfaces.ErrStudyNotFound) || errors.Is(err, interfaces.ErrDuplicateStudy) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) CreateStudy(ctx context.Context, study *types.Study) error {
	verses, err := json.Marshal(nonNil(study.Passage.Verses))
	if err != nil {
		return fmt.Errorf("failed to marshal verses: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO studies (id, teacher_user_id, join_code, passage_reference, passage_verses, status, created_at, expires_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			study.ID,
			study.TeacherUserID,
			study.JoinCode,
			study.Passage.Reference,
			string(verses),
			string(study.Status),
			study.CreatedAt,
			nullTime(study.ExpiresAt),
			study.CreatedAt,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: %s", interfaces.ErrDuplicateStudy, study.ID)
			}
			return fmt.Errorf("failed to insert study: %w", err)
		}
		return nil
	})
}

const studyColumns = `id, teacher_user_id, join_code, passage_reference, passage_verses, status, created_at, expires_at`

func (m *Manager) GetStudy(ctx context.Context, studyID string) (*types.Study, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+studyColumns+` FROM studies WHERE id = ?`, studyID)
	return scanStudy(row)
}

func (m *Manager) GetStudyByJoinCode(ctx context.Context, joinCode string) (*types.Study, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+studyColumns+` FROM studies WHERE join_code = ?`, joinCode)
	return scanStudy(row)
}

func scanStudy(row *sql.Row) (*types.Study, error) {
	var (
		study     types.Study
		verses    string
		status    string
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&study.ID,
		&study.TeacherUserID,
		&study.JoinCode,
		&study.Passage.Reference,
		&verses,
		&status,
		&study.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrStudyNotFound
		}
		return nil, fmt.Errorf("failed to query study: %w", err)
	}

	if err := json.Unmarshal([]byte(verses), &study.Passage.Verses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verses: %w", err)
	}
	study.Status = types.StudyStatus(status)
	if expiresAt.Valid {
		study.ExpiresAt = expiresAt.Time
	}
	return &study, nil
}

func (m *Manager) UpdateStudyStatus(ctx context.Context, studyID string, status types.StudyStatus) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE studies SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), time.Now().UTC(), studyID)
		if err != nil {
			return fmt.Errorf("failed to update study: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return interfaces.ErrStudyNotFound
		}
		return nil
	})
}

// HealthCheck verifies connectivity and that the schema is in place.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM studies LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the pool for schema validation.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close drains the writer and closes the pool. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nonNil(v []types.Verse) []types.Verse {
	if v == nil {
		return []types.Verse{}
	}
	return v
}
