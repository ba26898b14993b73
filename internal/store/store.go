// Package store is the gorm-backed record store of the reputation ledger.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trustchain/internal/ledger"
	"trustchain/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store persists reputation blocks in the reputation_ledger table.
type Store struct {
	db *gorm.DB
}

var _ ledger.Store = (*Store)(nil)

// New creates a store over an opened database
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LastBlock returns the newest block of the user, or nil for an empty chain
func (s *Store) LastBlock(ctx context.Context, userID string) (*models.ReputationBlock, error) {
	var b models.ReputationBlock
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(1).
		Find(&b).Error
	if err != nil {
		return nil, err
	}
	if b.ID == "" {
		return nil, nil
	}
	return &b, nil
}

// AllBlocks returns the user's chain, oldest first
func (s *Store) AllBlocks(ctx context.Context, userID string) ([]*models.ReputationBlock, error) {
	var blocks []*models.ReputationBlock
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&blocks).Error
	return blocks, err
}

// InsertBlock persists a block. A block whose previous_hash is already chained
// for the same user yields ledger.ErrForkDetected.
func (s *Store) InsertBlock(ctx context.Context, block *models.ReputationBlock) error {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(block).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicateKeyError(err) {
			return fmt.Errorf("%w: user %s previous %s: %v", ledger.ErrForkDetected, block.UserID, block.PreviousHash, err)
		}
		return err
	}
	return nil
}

// History returns the user's blocks newest first. limit <= 0 means all.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]*models.ReputationBlock, error) {
	var blocks []*models.ReputationBlock
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&blocks).Error
	return blocks, err
}

// Score sums the points of the user's blocks
func (s *Store) Score(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.ReputationBlock{}).
		Where("user_id = ?", userID).
		Select("CAST(COALESCE(SUM(points), 0) AS BIGINT)").
		Scan(&total).Error
	return total, err
}

// UserScore is one aggregated leaderboard row
type UserScore struct {
	UserID string `json:"user_id"`
	Points int64  `json:"points"`
	Blocks int64  `json:"blocks"`
}

// topScoresSQL ranks every known user: profiles without blocks score 0 and
// chain owners without a profile row are still listed.
const topScoresSQL = `SELECT u.user_id AS user_id,
	CAST(COALESCE(SUM(l.points), 0) AS BIGINT) AS points,
	COUNT(l.id) AS blocks
FROM (SELECT CAST(id AS TEXT) AS user_id FROM profiles UNION SELECT user_id FROM reputation_ledger) u
LEFT JOIN reputation_ledger l ON l.user_id = u.user_id
GROUP BY u.user_id
ORDER BY points DESC, user_id ASC`

// TopScores aggregates points per user, highest first
func (s *Store) TopScores(ctx context.Context, limit int) ([]UserScore, error) {
	var rows []UserScore
	var err error
	if limit > 0 {
		err = s.db.WithContext(ctx).Raw(topScoresSQL+" LIMIT ?", limit).Scan(&rows).Error
	} else {
		err = s.db.WithContext(ctx).Raw(topScoresSQL).Scan(&rows).Error
	}
	return rows, err
}

// ChainUsers lists every user owning at least one block
func (s *Store) ChainUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).
		Model(&models.ReputationBlock{}).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &users).Error
	return users, err
}

// isDuplicateKeyError catches unique violations the dialect did not translate
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "unique_violation") ||
		strings.Contains(errStr, "23505") ||
		strings.Contains(errStr, "UNIQUE constraint failed")
}
