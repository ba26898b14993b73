package ledger

import (
	"context"
	"fmt"

	"trustchain/internal/metrics"
	"trustchain/internal/models"
)

// Verification describes the outcome of walking one chain.
type Verification struct {
	UserID   string `json:"user_id"`
	Valid    bool   `json:"valid"`
	Strict   bool   `json:"strict"`
	Blocks   int    `json:"blocks"`
	BrokenAt int    `json:"broken_at"` // index of the first bad block, -1 when valid
	Reason   string `json:"reason,omitempty"`
}

// Verify reports whether the user's chain is internally consistent.
// A broken chain is a false result; only store failures return an error.
func (lg *Ledger) Verify(ctx context.Context, userID string) (bool, error) {
	v, err := lg.Inspect(ctx, userID)
	if err != nil {
		return false, err
	}
	return v.Valid, nil
}

// Inspect is Verify with the details of where the chain breaks.
func (lg *Ledger) Inspect(ctx context.Context, userID string) (*Verification, error) {
	blocks, err := lg.store.AllBlocks(ctx, userID)
	if err != nil {
		metrics.ChainVerifications.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: read chain of %s: %w", ErrStore, userID, err)
	}

	v := VerifyBlocks(blocks, lg.strict)
	v.UserID = userID
	if v.Valid {
		metrics.ChainVerifications.WithLabelValues("valid").Inc()
	} else {
		metrics.ChainVerifications.WithLabelValues("invalid").Inc()
		lg.log.Warnw("reputation chain compromised", "user_id", userID, "broken_at", v.BrokenAt, "reason", v.Reason)
	}
	return &v, nil
}

// VerifyBlocks checks a chain given in ascending creation order.
//
// Every block must reference its predecessor's current_hash. In strict mode the
// first block must also reference Genesis and every block's hash is recomputed
// from its stored content.
func VerifyBlocks(blocks []*models.ReputationBlock, strict bool) Verification {
	v := Verification{Valid: true, Strict: strict, Blocks: len(blocks), BrokenAt: -1}
	broken := func(i int, reason string) Verification {
		v.Valid = false
		v.BrokenAt = i
		v.Reason = reason
		return v
	}

	for i, b := range blocks {
		if i > 0 && b.PreviousHash != blocks[i-1].CurrentHash {
			return broken(i, "previous hash does not match predecessor")
		}
		if !strict {
			continue
		}
		if i == 0 && b.PreviousHash != Genesis {
			return broken(i, "first block does not reference genesis")
		}
		computed, err := BlockHash(b)
		if err != nil {
			return broken(i, "stored metadata is not canonicalizable")
		}
		if computed != b.CurrentHash {
			return broken(i, "content does not match current hash")
		}
	}
	return v
}
