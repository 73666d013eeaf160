package interfaces

import (
	"context"

	"studysync/pkg/types"
)

// StudyStore is the persistence collaborator that owns study records.
// The live session layer only reads bootstrap data and flips status.
type StudyStore interface {
	CreateStudy(ctx context.Context, study *types.Study) error

	// GetStudy returns ErrStudyNotFound for unknown ids.
	GetStudy(ctx context.Context, studyID string) (*types.Study, error)

	GetStudyByJoinCode(ctx context.Context, joinCode string) (*types.Study, error)

	UpdateStudyStatus(ctx context.Context, studyID string, status types.StudyStatus) error

	HealthCheck(ctx context.Context) error

	Close() error
}
