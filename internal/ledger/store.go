package ledger

import (
	"context"
	"errors"

	"trustchain/internal/models"
)

var (
	// ErrStore marks every failure of the record store. Mining never reports success with it.
	ErrStore = errors.New("record store failure")
	// ErrForkDetected is returned by a Store when the block's previous_hash is already
	// chained for that user, i.e. another miner appended first.
	ErrForkDetected = errors.New("fork detected: previous hash already chained")
	// ErrInvalidBlock rejects mining input that cannot form a block.
	ErrInvalidBlock = errors.New("invalid block")
)

// Store persists blocks. Implementations must reject a second block with the same
// (user_id, previous_hash) pair with an error wrapping ErrForkDetected.
type Store interface {
	// LastBlock returns the most recently created block of the user, or nil.
	LastBlock(ctx context.Context, userID string) (*models.ReputationBlock, error)
	// AllBlocks returns every block of the user, ascending by creation time.
	AllBlocks(ctx context.Context, userID string) ([]*models.ReputationBlock, error)
	// InsertBlock persists a fully populated block and assigns its ID if empty.
	InsertBlock(ctx context.Context, block *models.ReputationBlock) error
}
