package p2p

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/gra-p2p/gra/internal/models"
)

// RecordValidator accepts gra DHT records: the value must decode, must not
// have expired, and a carried block must hash to the record key.
type RecordValidator struct {
	now func() time.Time
}

// NewRecordValidator creates a validator using the wall clock.
func NewRecordValidator() RecordValidator {
	return RecordValidator{now: time.Now}
}

func (v RecordValidator) clock() time.Time {
	if v.now == nil {
		return time.Now()
	}
	return v.now()
}

func splitRecordKey(key string) ([]byte, error) {
	rest, ok := strings.CutPrefix(key, "/"+RecordNamespace+"/")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecordKey, key)
	}
	return []byte(rest), nil
}

func (v RecordValidator) decode(key string, value []byte) (models.Record, error) {
	raw, err := splitRecordKey(key)
	if err != nil {
		return models.Record{}, err
	}
	rec, err := models.UnmarshalRecordValue(raw, value)
	if err != nil {
		return models.Record{}, err
	}
	if rec.Expired(v.clock()) {
		return models.Record{}, ErrRecordExpired
	}
	if len(rec.Value) > 0 {
		b, err := models.Decode(rec.Value)
		if err != nil {
			return models.Record{}, err
		}
		if !bytes.Equal(b.Hash().Bytes(), raw) {
			return models.Record{}, ErrRecordHashInvalid
		}
	}
	return rec, nil
}

// Validate implements the DHT record validator.
func (v RecordValidator) Validate(key string, value []byte) error {
	_, err := v.decode(key, value)
	return err
}

// Select prefers records that carry a block, then the latest expiry (no
// expiry counts as latest), then the first seen.
func (v RecordValidator) Select(key string, values [][]byte) (int, error) {
	best := -1
	var bestRec models.Record
	for i, val := range values {
		rec, err := v.decode(key, val)
		if err != nil {
			continue
		}
		if best < 0 || better(rec, bestRec) {
			best, bestRec = i, rec
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("no valid record for %q", key)
	}
	return best, nil
}

func better(a, b models.Record) bool {
	if (len(a.Value) > 0) != (len(b.Value) > 0) {
		return len(a.Value) > 0
	}
	switch {
	case !a.HasExpiry():
		return b.HasExpiry()
	case !b.HasExpiry():
		return false
	default:
		return a.Expires.After(b.Expires)
	}
}
