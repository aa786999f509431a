package journal

import (
	"context"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/database/query"
)

var (
	ErrNotFound     = errors.New("transfer not found")
	ErrStaleVersion = errors.New("transfer version is stale")
)

type Store interface {
	// Save creates or updates a transfer record. Updates must be made against
	// the latest version.
	Save(ctx context.Context, record *Record) error

	// GetById gets a transfer by its transfer ID
	GetById(ctx context.Context, transferId string) (*Record, error)

	// GetAllBySender gets a page of transfers initiated by sender
	GetAllBySender(ctx context.Context, sender string, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*Record, error)

	// GetAllByState gets a page of transfers in a state
	GetAllByState(ctx context.Context, state State, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*Record, error)
}
