package models

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/gra-p2p/gra/internal/cbor"
)

// RecordPolicy sets record expiry per block kind. A zero TTL means the
// record does not expire.
type RecordPolicy struct {
	RefTTL       time.Duration
	BytesTTL     time.Duration
	CompositeTTL time.Duration
}

// DefaultRecordPolicy expires references after an hour and keeps data
// records indefinitely.
func DefaultRecordPolicy() RecordPolicy {
	return RecordPolicy{RefTTL: time.Hour}
}

// Record is a DHT record derived from a block.
type Record struct {
	Key       []byte
	Value     []byte
	Publisher peer.ID
	Expires   time.Time
}

// HasExpiry reports whether the record carries an expiry.
func (r Record) HasExpiry() bool { return !r.Expires.IsZero() }

// Expired reports whether the record has expired at now.
func (r Record) Expired(now time.Time) bool {
	return r.HasExpiry() && !now.Before(r.Expires)
}

// ToRecord converts a block to a DHT record. References and raw bytes are
// keyed by what they contain and carry no value; composites are keyed by
// their content hash and carry their encoding and publisher.
func ToRecord(b Block, publisher peer.ID, policy RecordPolicy, now time.Time) (Record, error) {
	var rec Record
	var ttl time.Duration

	switch v := b.(type) {
	case *Ref:
		rec.Key = v.Target.Bytes()
		ttl = policy.RefTTL
	case *Bytes:
		rec.Key = v.Data()
		ttl = policy.BytesTTL
	case *Composite:
		value, err := Encode(v)
		if err != nil {
			return Record{}, err
		}
		rec.Key = v.Hash().Bytes()
		rec.Value = value
		rec.Publisher = publisher
		ttl = policy.CompositeTTL
	default:
		return Record{}, fmt.Errorf("models: unsupported block type %T", b)
	}

	if ttl > 0 {
		rec.Expires = now.Add(ttl).UTC()
	}
	return rec, nil
}

type recordWire struct {
	cbor.StructAsArray
	Value     []byte
	Publisher []byte
	Expires   int64
}

// MarshalValue encodes the part of the record stored under its key:
// value, publisher and expiry (unix nanoseconds, 0 for none).
func (r Record) MarshalValue() ([]byte, error) {
	w := recordWire{Value: r.Value}
	if r.Publisher != "" {
		w.Publisher = []byte(r.Publisher)
	}
	if r.HasExpiry() {
		w.Expires = r.Expires.UnixNano()
	}
	return cbor.Encode(w)
}

// UnmarshalRecordValue is the inverse of MarshalValue.
func UnmarshalRecordValue(key, data []byte) (Record, error) {
	var w recordWire
	if err := cbor.Decode(data, &w); err != nil {
		return Record{}, &DecodeError{Reason: "record", Err: err}
	}
	rec := Record{Key: key, Value: w.Value}
	if len(w.Publisher) > 0 {
		id, err := peer.IDFromBytes(w.Publisher)
		if err != nil {
			return Record{}, &DecodeError{Reason: "record publisher", Err: err}
		}
		rec.Publisher = id
	}
	if w.Expires != 0 {
		rec.Expires = time.Unix(0, w.Expires).UTC()
	}
	return rec, nil
}
