package database

import (
	"fmt"

	"go.uber.org/zap"

	"studysync/internal/config"
	dbconfig "studysync/pkg/database"
	"studysync/pkg/interfaces"
)

// Open builds the study store selected by cfg.Driver.
func Open(cfg *config.DatabaseConfig, logger *zap.Logger) (interfaces.StudyStore, error) {
	switch cfg.Driver {
	case "sqlite":
		dc := dbconfig.DefaultConfig()
		dc.DatabasePath = cfg.Path
		m, err := NewManager(dc, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "postgres":
		p, err := OpenPostgres(cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
