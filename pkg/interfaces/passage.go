package interfaces

import (
	"context"

	"studysync/pkg/types"
)

// PassageProvider resolves a reference such as "Romans 8:28" into verses.
type PassageProvider interface {
	Lookup(ctx context.Context, reference string) (types.Passage, error)
}
