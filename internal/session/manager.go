package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

// Manager owns the persisted study lifecycle: creation, join-code lookup,
// bootstrap loading for live rooms and completion. Live room state lives in
// the hub, never here.
type Manager struct {
	store    interfaces.StudyStore
	passages interfaces.PassageProvider
	logger   *zap.Logger
	now      func() time.Time
	loads    singleflight.Group
}

func NewManager(store interfaces.StudyStore, passages interfaces.PassageProvider, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		passages: passages,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateParams describes a new study. Verses are looked up from the passage
// provider when only a reference is given.
type CreateParams struct {
	TeacherUserID string
	Reference     string
	Verses        []types.Verse
	TTL           time.Duration
}

// CreateStudy persists a new active study with a fresh id and join code.
func (m *Manager) CreateStudy(ctx context.Context, p CreateParams) (*types.Study, error) {
	if !types.IsValidUserID(p.TeacherUserID) {
		return nil, ErrInvalidTeacher
	}
	reference := strings.TrimSpace(p.Reference)
	if reference == "" || len(reference) > 100 {
		return nil, ErrInvalidReference
	}

	passage := types.Passage{Reference: reference, Verses: p.Verses}
	if len(passage.Verses) == 0 && m.passages != nil {
		found, err := m.passages.Lookup(ctx, reference)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrPassageUnavailable, err)
		}
		passage = found
	}

	now := m.now().UTC()
	study := &types.Study{
		ID:            uuid.NewString(),
		TeacherUserID: p.TeacherUserID,
		JoinCode:      NewJoinCode(),
		Passage:       passage,
		Status:        types.StudyActive,
		CreatedAt:     now,
	}
	if p.TTL > 0 {
		study.ExpiresAt = now.Add(p.TTL)
	}

	if err := m.store.CreateStudy(ctx, study); err != nil {
		return nil, fmt.Errorf("failed to create study: %w", err)
	}

	m.logger.Info("study created",
		zap.String("study_id", study.ID),
		zap.String("teacher_user_id", study.TeacherUserID),
		zap.String("reference", study.Passage.Reference))
	return study, nil
}

// NewJoinCode returns 12 upper-case hex characters taken from the random
// bytes of a v4 uuid.
func NewJoinCode() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:6]))
}

// Load fetches the bootstrap record for a live room. Concurrent loads of
// the same id share one store round trip. Unknown, completed and expired
// studies all report types.ErrSessionNotFound.
func (m *Manager) Load(ctx context.Context, studyID string) (*types.Study, error) {
	v, err, _ := m.loads.Do(studyID, func() (interface{}, error) {
		return m.store.GetStudy(ctx, studyID)
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrStudyNotFound) {
			return nil, fmt.Errorf("study %s: %w", studyID, types.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("load study %s: %w", studyID, err)
	}

	// The shared result must not be mutated by any one caller.
	study := *v.(*types.Study)
	if !study.Joinable(m.now()) {
		return nil, fmt.Errorf("study %s is %s: %w", studyID, study.Status, types.ErrSessionNotFound)
	}
	return &study, nil
}

// GetStudy returns the persisted study regardless of status.
func (m *Manager) GetStudy(ctx context.Context, studyID string) (*types.Study, error) {
	study, err := m.store.GetStudy(ctx, studyID)
	if errors.Is(err, interfaces.ErrStudyNotFound) {
		return nil, fmt.Errorf("study %s: %w", studyID, types.ErrSessionNotFound)
	}
	return study, err
}

// FindByJoinCode resolves a join code. Codes are matched case-insensitively.
func (m *Manager) FindByJoinCode(ctx context.Context, code string) (*types.Study, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !types.IsValidJoinCode(code) {
		return nil, ErrInvalidJoinCode
	}

	study, err := m.store.GetStudyByJoinCode(ctx, code)
	if err != nil {
		if errors.Is(err, interfaces.ErrStudyNotFound) {
			return nil, fmt.Errorf("join code %s: %w", code, types.ErrSessionNotFound)
		}
		return nil, err
	}
	return study, nil
}

// UpdateStudyStatus persists a status change; the hub calls it with
// StudyCompleted when a teacher ends a session.
func (m *Manager) UpdateStudyStatus(ctx context.Context, studyID string, status types.StudyStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := m.store.UpdateStudyStatus(ctx, studyID, status); err != nil {
		if errors.Is(err, interfaces.ErrStudyNotFound) {
			return fmt.Errorf("study %s: %w", studyID, types.ErrSessionNotFound)
		}
		return err
	}

	m.logger.Info("study status updated", zap.String("study_id", studyID), zap.String("status", string(status)))
	return nil
}
