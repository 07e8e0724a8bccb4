package models

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gra-p2p/gra/internal/cbor"
	"github.com/gra-p2p/gra/internal/hash"
)

const (
	// WireVersion is the envelope version written by Encode.
	WireVersion = 1

	// MaxDepth bounds composite nesting accepted by Decode.
	MaxDepth = 16
)

var (
	// ErrNilBlock is returned when encoding a nil block.
	ErrNilBlock = errors.New("models: nil block")

	// ErrTimestampRange is returned when encoding a composite whose
	// timestamp has no four-digit RFC 3339 year.
	ErrTimestampRange = errors.New("models: timestamp year outside 0000-9999")
)

// DecodeError reports malformed encoded blocks or entries.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("models: decode: %s: %v", e.Reason, e.Err)
	}
	return "models: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

type envelope struct {
	cbor.StructAsArray
	Version uint
	Kind    uint8
	Body    cbor.RawMessage
}

type compositeBody struct {
	cbor.StructAsArray
	Timestamp  string
	Confidence uint64
	Scope      *hash.Hash
	Data       cbor.RawMessage
	Children   []cbor.RawMessage
}

// Encode returns the canonical encoding of b.
func Encode(b Block) ([]byte, error) {
	body, err := encodeBody(b)
	if err != nil {
		return nil, err
	}
	return cbor.Encode(envelope{Version: WireVersion, Kind: uint8(b.Kind()), Body: body})
}

func encodeBody(b Block) ([]byte, error) {
	switch v := b.(type) {
	case nil:
		return nil, ErrNilBlock
	case *Bytes:
		if v == nil {
			return nil, ErrNilBlock
		}
		chunks := make([][]byte, len(v.Chunks))
		for i := range v.Chunks {
			chunks[i] = v.Chunks[i][:]
		}
		return cbor.Encode(chunks)
	case *Ref:
		if v == nil {
			return nil, ErrNilBlock
		}
		return v.Target.MarshalCBOR()
	case *Composite:
		if v == nil {
			return nil, ErrNilBlock
		}
		ts, err := formatTimestamp(v.Timestamp)
		if err != nil {
			return nil, err
		}
		body := compositeBody{
			Timestamp:  ts,
			Confidence: v.Confidence,
			Scope:      v.Scope,
		}
		if v.Data != nil {
			data, err := Encode(v.Data)
			if err != nil {
				return nil, fmt.Errorf("composite data: %w", err)
			}
			body.Data = data
		}
		if len(v.Children) > 0 {
			body.Children = make([]cbor.RawMessage, len(v.Children))
			for i, child := range v.Children {
				data, err := Encode(child)
				if err != nil {
					return nil, fmt.Errorf("composite child %d: %w", i, err)
				}
				body.Children[i] = data
			}
		}
		return cbor.Encode(body)
	default:
		return nil, fmt.Errorf("models: unsupported block type %T", b)
	}
}

func formatTimestamp(t time.Time) (string, error) {
	t = t.UTC()
	if y := t.Year(); y < 0 || y > 9999 {
		return "", fmt.Errorf("%w: %d", ErrTimestampRange, y)
	}
	return t.Format(time.RFC3339Nano), nil
}

// Decode parses an encoded block. It never panics on malformed input.
func Decode(data []byte) (Block, error) {
	return decode(data, 0)
}

func decode(data []byte, depth int) (Block, error) {
	if depth > MaxDepth {
		return nil, &DecodeError{Reason: "nesting too deep"}
	}

	var env envelope
	if err := cbor.Decode(data, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if env.Version != WireVersion {
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported version %d", env.Version)}
	}
	if cbor.IsNull(env.Body) {
		return nil, &DecodeError{Reason: "missing body"}
	}

	switch Kind(env.Kind) {
	case KindBytes:
		return decodeBytes(env.Body)
	case KindRef:
		var target hash.Hash
		if err := target.UnmarshalCBOR(env.Body); err != nil {
			return nil, &DecodeError{Reason: "ref target", Err: err}
		}
		return &Ref{Target: target}, nil
	case KindComposite:
		return decodeComposite(env.Body, depth)
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown block kind %d", env.Kind)}
	}
}

func decodeBytes(body []byte) (*Bytes, error) {
	var raw [][]byte
	if err := cbor.Decode(body, &raw); err != nil {
		return nil, &DecodeError{Reason: "bytes body", Err: err}
	}
	b := &Bytes{Chunks: make([]Chunk, len(raw))}
	for i, c := range raw {
		if len(c) != BlockSize {
			return nil, &DecodeError{Reason: fmt.Sprintf("chunk %d has %d bytes", i, len(c))}
		}
		copy(b.Chunks[i][:], c)
	}
	return b, nil
}

func decodeComposite(body []byte, depth int) (*Composite, error) {
	var cb compositeBody
	if err := cbor.Decode(body, &cb); err != nil {
		return nil, &DecodeError{Reason: "composite body", Err: err}
	}
	ts, err := time.Parse(time.RFC3339Nano, cb.Timestamp)
	if err != nil {
		return nil, &DecodeError{Reason: "composite timestamp", Err: err}
	}
	if ts.UTC().Format(time.RFC3339Nano) != cb.Timestamp {
		return nil, &DecodeError{Reason: "composite timestamp not in canonical UTC form"}
	}

	c := &Composite{
		Timestamp:  normalizeTime(ts),
		Confidence: cb.Confidence,
		Scope:      cb.Scope,
	}
	if !cbor.IsNull(cb.Data) {
		if c.Data, err = decode(cb.Data, depth+1); err != nil {
			return nil, err
		}
	}
	if len(cb.Children) > 0 {
		c.Children = make([]Block, len(cb.Children))
		for i, raw := range cb.Children {
			if c.Children[i], err = decode(raw, depth+1); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Equal reports whether two blocks have the same canonical encoding.
func Equal(a, b Block) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
