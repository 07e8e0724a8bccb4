// Package cbor wraps fxamacker/cbor with the encoding options used for every
// object that is hashed or sent over the wire.
package cbor

import (
	"fmt"

	_cbor "github.com/fxamacker/cbor/v2"
)

// MaxNestedLevels bounds nesting when decoding untrusted input.
const MaxNestedLevels = 64

// RawMessage is a raw encoded CBOR item.
type RawMessage = _cbor.RawMessage

// StructAsArray makes the embedding struct encode as a CBOR array.
type StructAsArray struct {
	_ struct{} `cbor:",toarray"`
}

var (
	encMode _cbor.EncMode
	decMode _cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding so equal values always produce equal bytes
	encMode, err = _cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: encode mode: %v", err))
	}
	decMode, err = _cbor.DecOptions{
		MaxNestedLevels:  MaxNestedLevels,
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 16,
		DupMapKey:        _cbor.DupMapKeyEnforcedAPF,
		IndefLength:      _cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: decode mode: %v", err))
	}
}

// Encode returns the deterministic CBOR encoding of v.
func Encode(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	return data, nil
}

// Decode decodes exactly one CBOR item from data into v.
// Trailing bytes are an error.
func Decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}
	return nil
}

// IsNull reports whether raw is empty or the CBOR null value.
func IsNull(raw RawMessage) bool {
	return len(raw) == 0 || (len(raw) == 1 && (raw[0] == 0xf6 || raw[0] == 0xf7))
}
