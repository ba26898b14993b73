// Package ledger implements the reputation chain: block hashing, mining (append)
// and integrity verification over a pluggable record store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trustchain/internal/logger"
	"trustchain/internal/metrics"
	"trustchain/internal/models"

	"gorm.io/datatypes"
)

// Ledger appends and verifies per-user reputation chains.
//
// Mining is a read-last-then-insert sequence. Two guards keep a chain linear:
// the Locker serializes miners of the same user, and the store rejects a second
// block on the same previous_hash. An insert lost to the store constraint is
// retried exactly once with a freshly read previous_hash.
type Ledger struct {
	store  Store
	locker Locker
	now    func() time.Time
	strict bool
	log    *logger.Logger
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLocker sets the per-user serialization point (default: in-process KeyedMutex)
func WithLocker(l Locker) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.locker = l
		}
	}
}

// WithClock overrides the mining clock
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		if now != nil {
			lg.now = now
		}
	}
}

// WithStrict toggles content recomputation during verification (default: on).
// Without it only the previous_hash links are checked, so edits to a block's
// points, action or metadata go unnoticed.
func WithStrict(strict bool) Option {
	return func(lg *Ledger) {
		lg.strict = strict
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.log = l
		}
	}
}

// New creates a ledger over store
func New(store Store, opts ...Option) *Ledger {
	lg := &Ledger{
		store:  store,
		locker: NewKeyedMutex(),
		now:    time.Now,
		strict: true,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(lg)
	}
	return lg
}

// Strict reports whether verification recomputes block hashes
func (lg *Ledger) Strict() bool {
	return lg.strict
}

// Mine appends a block to the user's chain and returns its current_hash.
func (lg *Ledger) Mine(ctx context.Context, userID, actionType string, points int64, metadata Metadata) (string, error) {
	block, err := lg.MineBlock(ctx, userID, actionType, points, metadata)
	if err != nil {
		return "", err
	}
	return block.CurrentHash, nil
}

// MineBlock is Mine returning the persisted block.
func (lg *Ledger) MineBlock(ctx context.Context, userID, actionType string, points int64, metadata Metadata) (*models.ReputationBlock, error) {
	start := time.Now()
	defer func() { metrics.MineDuration.Observe(time.Since(start).Seconds()) }()

	userID = strings.TrimSpace(userID)
	actionType = strings.TrimSpace(actionType)
	if userID == "" || actionType == "" {
		metrics.MineFailures.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: user id and action type are required", ErrInvalidBlock)
	}
	meta, err := EncodeMetadata(metadata)
	if err != nil {
		metrics.MineFailures.WithLabelValues("invalid").Inc()
		return nil, err
	}

	var block *models.ReputationBlock
	err = lg.locker.WithLock(ctx, userID, func(ctx context.Context) error {
		b, err := lg.appendBlock(ctx, userID, actionType, points, meta)
		if errors.Is(err, ErrForkDetected) {
			metrics.ForkRetries.Inc()
			lg.log.Warnw("chain head moved during mining, retrying", "user_id", userID, "action_type", actionType)
			b, err = lg.appendBlock(ctx, userID, actionType, points, meta)
		}
		block = b
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrForkDetected):
			metrics.MineFailures.WithLabelValues("fork").Inc()
		case errors.Is(err, ErrStore):
			metrics.MineFailures.WithLabelValues("store").Inc()
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			metrics.MineFailures.WithLabelValues("canceled").Inc()
		default:
			metrics.MineFailures.WithLabelValues("lock").Inc()
		}
		lg.log.Errorw("mining failed", "user_id", userID, "action_type", actionType, "error", err)
		return nil, err
	}

	metrics.BlocksMined.WithLabelValues(actionType).Inc()
	lg.log.Printf("block mined: user=%s action=%s points=%d hash=%s", userID, actionType, points, block.CurrentHash)
	return block, nil
}

// appendBlock performs one read-last + insert round.
func (lg *Ledger) appendBlock(ctx context.Context, userID, actionType string, points int64, meta []byte) (*models.ReputationBlock, error) {
	last, err := lg.store.LastBlock(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: read last block of %s: %w", ErrStore, userID, err)
	}

	previousHash := Genesis
	createdAt := lg.now().UTC().Truncate(time.Millisecond)
	if last != nil {
		previousHash = last.CurrentHash
		// created_at orders the chain, so it must move forward even if the clock does not
		lastAt := last.CreatedAt.UTC().Truncate(time.Millisecond)
		if !createdAt.After(lastAt) {
			createdAt = lastAt.Add(time.Millisecond)
		}
	}

	block := &models.ReputationBlock{
		UserID:       userID,
		ActionType:   actionType,
		Points:       points,
		Metadata:     datatypes.JSON(meta),
		PreviousHash: previousHash,
		CurrentHash:  ComputeHash(userID, actionType, points, previousHash, FormatTimestamp(createdAt), meta),
		CreatedAt:    createdAt,
	}
	if err := lg.store.InsertBlock(ctx, block); err != nil {
		return nil, fmt.Errorf("%w: insert block for %s: %w", ErrStore, userID, err)
	}
	return block, nil
}
