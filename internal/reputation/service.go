// Package reputation turns application events into ledger blocks and serves the
// read models built on a user's chain: score, tier, trust chain and leaderboard.
package reputation

import (
	"context"
	"fmt"
	"strings"

	"trustchain/internal/ledger"
	"trustchain/internal/logger"
	"trustchain/internal/models"
	"trustchain/internal/store"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

// Reader is the query side of the record store
type Reader interface {
	History(ctx context.Context, userID string, limit int) ([]*models.ReputationBlock, error)
	Score(ctx context.Context, userID string) (int64, error)
	TopScores(ctx context.Context, limit int) ([]store.UserScore, error)
	ChainUsers(ctx context.Context) ([]string, error)
}

// NameResolver labels users for display
type NameResolver interface {
	Resolve(ctx context.Context, userID string) string
}

// Standing is a user's score and tier
type Standing struct {
	Rank   int    `json:"rank,omitempty"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Points int64  `json:"points"`
	Blocks int64  `json:"blocks,omitempty"`
	Tier   Tier   `json:"tier"`
}

// TrustChain is a user's history, newest block first, with its verification
type TrustChain struct {
	UserID       string                    `json:"user_id"`
	Name         string                    `json:"name,omitempty"`
	Points       int64                     `json:"points"`
	Tier         Tier                      `json:"tier"`
	Blocks       []*models.ReputationBlock `json:"blocks"`
	Verification ledger.Verification       `json:"verification"`
}

// AuditReport lists the chains that failed verification
type AuditReport struct {
	Checked     int                   `json:"checked"`
	Compromised []ledger.Verification `json:"compromised"`
}

// Service records awards and reads reputation
type Service struct {
	ledger *ledger.Ledger
	reader Reader
	names  NameResolver
	log    *logger.Logger
}

// NewService creates the reputation service. names may be nil.
func NewService(lg *ledger.Ledger, reader Reader, names NameResolver, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{ledger: lg, reader: reader, names: names, log: log}
}

// Award mines the block a trigger is worth. awarded is false, with no error, when
// the event does not qualify (a review below the minimum rating).
func (s *Service) Award(ctx context.Context, a Award) (hash string, awarded bool, err error) {
	rule, ok := RuleFor(a.Trigger)
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownTrigger, a.Trigger)
	}
	if rule.MinRating > 0 && a.Rating < rule.MinRating {
		s.log.Printf("award skipped: trigger=%s user=%s rating=%d", a.Trigger, a.UserID, a.Rating)
		return "", false, nil
	}

	action := strings.ToLower(string(a.Trigger))
	hash, err = s.ledger.Mine(ctx, a.UserID, action, rule.Points, a.metadata(rule))
	if err != nil {
		return "", false, err
	}
	s.log.Infow("reputation awarded", "user_id", a.UserID, "trigger", action, "points", rule.Points)
	return hash, true, nil
}

// Standing returns the user's score and tier
func (s *Service) Standing(ctx context.Context, userID string) (*Standing, error) {
	points, err := s.reader.Score(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: score of %s: %w", ledger.ErrStore, userID, err)
	}
	return &Standing{
		UserID: userID,
		Name:   s.name(ctx, userID),
		Points: points,
		Tier:   TierFor(points),
	}, nil
}

// TrustChain returns the user's blocks, newest first, verified from the same
// snapshot that is displayed.
func (s *Service) TrustChain(ctx context.Context, userID string) (*TrustChain, error) {
	blocks, err := s.reader.History(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: history of %s: %w", ledger.ErrStore, userID, err)
	}

	ascending := make([]*models.ReputationBlock, len(blocks))
	var points int64
	for i, b := range blocks {
		ascending[len(blocks)-1-i] = b
		points += b.Points
	}
	v := ledger.VerifyBlocks(ascending, s.ledger.Strict())
	v.UserID = userID
	if !v.Valid {
		// report the position in display order
		v.BrokenAt = len(blocks) - 1 - v.BrokenAt
		s.log.Warnw("trust chain compromised", "user_id", userID, "reason", v.Reason)
	}

	return &TrustChain{
		UserID:       userID,
		Name:         s.name(ctx, userID),
		Points:       points,
		Tier:         TierFor(points),
		Blocks:       blocks,
		Verification: v,
	}, nil
}

// Leaderboard ranks users by score. limit defaults to 10 and is capped at 100.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}

	rows, err := s.reader.TopScores(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: leaderboard: %w", ledger.ErrStore, err)
	}
	board := make([]Standing, 0, len(rows))
	for i, r := range rows {
		board = append(board, Standing{
			Rank:   i + 1,
			UserID: r.UserID,
			Name:   s.name(ctx, r.UserID),
			Points: r.Points,
			Blocks: r.Blocks,
			Tier:   TierFor(r.Points),
		})
	}
	return board, nil
}

// Audit verifies every chain in the store
func (s *Service) Audit(ctx context.Context) (*AuditReport, error) {
	users, err := s.reader.ChainUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list chains: %w", ledger.ErrStore, err)
	}

	report := &AuditReport{Compromised: []ledger.Verification{}}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := s.ledger.Inspect(ctx, u)
		if err != nil {
			return nil, err
		}
		report.Checked++
		if !v.Valid {
			report.Compromised = append(report.Compromised, *v)
		}
	}
	s.log.Infow("audit finished", "checked", report.Checked, "compromised", len(report.Compromised))
	return report, nil
}

func (s *Service) name(ctx context.Context, userID string) string {
	if s.names == nil {
		return ""
	}
	return s.names.Resolve(ctx, userID)
}
