package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"trustchain/internal/models"

	"github.com/cometbft/cometbft/crypto/tmhash"
	"github.com/shopspring/decimal"
)

const (
	// Genesis is the previous_hash of the first block in every chain.
	// Changing it invalidates every existing chain.
	Genesis = "00000000000000000000000000000000"

	// TimestampLayout is the hashed form of created_at: UTC, millisecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// Metadata is the free-form context recorded with a block.
type Metadata map[string]interface{}

// FormatTimestamp renders t the way it is fed into the block hash.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimestampLayout)
}

// ComputeHash returns the lowercase hex SHA-256 of
// userID || actionType || points || previousHash || timestamp || metadata.
// metadata must already be canonical (see CanonicalMetadata).
func ComputeHash(userID, actionType string, points int64, previousHash, timestamp string, metadata []byte) string {
	var buf bytes.Buffer
	buf.Grow(len(userID) + len(actionType) + 20 + len(previousHash) + len(timestamp) + len(metadata))
	buf.WriteString(userID)
	buf.WriteString(actionType)
	buf.WriteString(strconv.FormatInt(points, 10))
	buf.WriteString(previousHash)
	buf.WriteString(timestamp)
	buf.Write(metadata)
	return hex.EncodeToString(tmhash.Sum(buf.Bytes()))
}

// BlockHash recomputes the hash of a stored block from its content fields.
func BlockHash(b *models.ReputationBlock) (string, error) {
	meta, err := CanonicalMetadata(b.Metadata)
	if err != nil {
		return "", err
	}
	return ComputeHash(b.UserID, b.ActionType, b.Points, b.PreviousHash, FormatTimestamp(b.CreatedAt), meta), nil
}

// EncodeMetadata serializes m into its canonical JSON form. nil encodes as {}.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidBlock, err)
	}
	return CanonicalMetadata(raw)
}

// CanonicalMetadata rewrites a JSON object so that equal documents yield equal bytes:
// keys sorted at every depth, no insignificant whitespace, no HTML escaping and
// numbers in plain decimal (no exponent, no trailing fraction zeros), which is
// also how jsonb hands them back. Empty input and null both become {}.
func CanonicalMetadata(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidBlock, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: metadata: trailing data", ErrInvalidBlock)
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("%w: metadata must be a JSON object", ErrInvalidBlock)
	}
	doc, err := canonicalNumbers(doc)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	// encoding/json writes map keys in sorted order
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidBlock, err)
	}
	return bytes.TrimSuffix(out.Bytes(), []byte("\n")), nil
}

// canonicalNumbers rewrites every json.Number in doc to its plain decimal form
func canonicalNumbers(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, fmt.Errorf("%w: metadata number %q: %v", ErrInvalidBlock, t, err)
		}
		return json.Number(d.String()), nil
	case map[string]interface{}:
		for k, child := range t {
			c, err := canonicalNumbers(child)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
		return t, nil
	case []interface{}:
		for i, child := range t {
			c, err := canonicalNumbers(child)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	default:
		return v, nil
	}
}
