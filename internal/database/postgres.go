package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// studyRecord is the GORM entity behind the postgres store.
type studyRecord struct {
	ID               string     `gorm:"type:text;primaryKey"`
	TeacherUserID    string     `gorm:"type:text;not null;index:idx_studies_teacher"`
	JoinCode         string     `gorm:"size:12;not null;uniqueIndex:idx_studies_join_code"`
	PassageReference string     `gorm:"type:text;not null"`
	PassageVerses    string     `gorm:"type:text;not null;default:'[]'"`
	Status           string     `gorm:"size:20;not null;default:active;index:idx_studies_status"`
	CreatedAt        time.Time  `gorm:"not null"`
	ExpiresAt        *time.Time `gorm:"column:expires_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`
}

func (studyRecord) TableName() string { return "studies" }

func recordFromStudy(s *types.Study) (*studyRecord, error) {
	verses, err := json.Marshal(nonNil(s.Passage.Verses))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verses: %w", err)
	}
	rec := &studyRecord{
		ID:               s.ID,
		TeacherUserID:    s.TeacherUserID,
		JoinCode:         s.JoinCode,
		PassageReference: s.Passage.Reference,
		PassageVerses:    string(verses),
		Status:           string(s.Status),
		CreatedAt:        s.CreatedAt,
	}
	if !s.ExpiresAt.IsZero() {
		t := s.ExpiresAt
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func (r *studyRecord) study() (*types.Study, error) {
	s := &types.Study{
		ID:            r.ID,
		TeacherUserID: r.TeacherUserID,
		JoinCode:      r.JoinCode,
		Passage:       types.Passage{Reference: r.PassageReference},
		Status:        types.StudyStatus(r.Status),
		CreatedAt:     r.CreatedAt,
	}
	if r.ExpiresAt != nil {
		s.ExpiresAt = *r.ExpiresAt
	}
	if err := json.Unmarshal([]byte(r.PassageVerses), &s.Passage.Verses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verses: %w", err)
	}
	return s, nil
}

// PostgresStore is the study store for deployments that share a postgres
// database with the rest of the application.
type PostgresStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenPostgres connects with dsn and migrates the studies table.
func OpenPostgres(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return NewPostgresStore(db, logger)
}

// NewPostgresStore wraps an existing GORM handle.
func NewPostgresStore(db *gorm.DB, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&studyRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate studies: %w", err)
	}
	logger.Info("postgres study store ready")
	return &PostgresStore{db: db, logger: logger}, nil
}

func (p *PostgresStore) CreateStudy(ctx context.Context, study *types.Study) error {
	rec, err := recordFromStudy(study)
	if err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", interfaces.ErrDuplicateStudy, study.ID)
		}
		return fmt.Errorf("failed to insert study: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetStudy(ctx context.Context, studyID string) (*types.Study, error) {
	return p.first(ctx, "id = ?", studyID)
}

func (p *PostgresStore) GetStudyByJoinCode(ctx context.Context, joinCode string) (*types.Study, error) {
	return p.first(ctx, "join_code = ?", joinCode)
}

func (p *PostgresStore) first(ctx context.Context, query string, arg string) (*types.Study, error) {
	var rec studyRecord
	if err := p.db.WithContext(ctx).Where(query, arg).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrStudyNotFound
		}
		return nil, fmt.Errorf("failed to query study: %w", err)
	}
	return rec.study()
}

func (p *PostgresStore) UpdateStudyStatus(ctx context.Context, studyID string, status types.StudyStatus) error {
	res := p.db.WithContext(ctx).Model(&studyRecord{}).Where("id = ?", studyID).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("failed to update study: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return interfaces.ErrStudyNotFound
	}
	return nil
}

func (p *PostgresStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
