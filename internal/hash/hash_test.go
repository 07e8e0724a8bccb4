package hash

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Deterministic(t *testing.T) {
	a := New([]byte("hello world"), nil)
	b := New([]byte("hello world"), nil)
	assert.True(t, a.Equal(b))
	assert.False(t, a.IsScoped())

	c := New([]byte("hello world!"), nil)
	assert.False(t, a.Equal(c))
}

func TestNew_Scoped(t *testing.T) {
	data := []byte("payload")
	keyA := New([]byte("scope-a"), nil)
	keyB := New([]byte("scope-b"), nil)

	plain := New(data, nil)
	scopedA := New(data, &Opts{Key: &keyA})
	scopedB := New(data, &Opts{Key: &keyB})

	require.True(t, scopedA.IsScoped())
	assert.True(t, scopedA.Scope().Equal(keyA))
	assert.NotEqual(t, plain.Digest(), scopedA.Digest())
	assert.NotEqual(t, scopedA.Digest(), scopedB.Digest())
	assert.False(t, scopedA.Equal(scopedB))
	assert.False(t, plain.Equal(scopedA))
}

func TestEqual_ScopeParticipates(t *testing.T) {
	key := New([]byte("k"), nil)
	plain := New([]byte("x"), nil)

	digest := plain.Digest()
	sameDigestScoped, err := FromBytes(digest[:], &Opts{Key: &key})
	require.NoError(t, err)

	assert.Equal(t, plain.Digest(), sameDigestScoped.Digest())
	assert.False(t, plain.Equal(sameDigestScoped))
	assert.Equal(t, -1, plain.Compare(sameDigestScoped))
	assert.Equal(t, 1, sameDigestScoped.Compare(plain))
}

func TestFromBytes_Width(t *testing.T) {
	for _, n := range []int{0, 1, 31, 33, 64} {
		_, err := FromBytes(make([]byte, n), nil)
		if !errors.Is(err, ErrDigestLength) {
			t.Errorf("FromBytes(len=%d) error = %v, want ErrDigestLength", n, err)
		}
	}

	h, err := FromBytes(make([]byte, Size), nil)
	require.NoError(t, err)
	assert.Equal(t, [Size]byte{}, h.Digest())
}

func TestBinary_RoundTrip(t *testing.T) {
	outer := New([]byte("outer"), nil)
	inner := New([]byte("inner"), &Opts{Key: &outer})
	leaf := New([]byte("leaf"), &Opts{Key: &inner})

	for _, h := range []Hash{outer, inner, leaf} {
		raw, err := h.MarshalBinary()
		require.NoError(t, err)

		var got Hash
		require.NoError(t, got.UnmarshalBinary(raw))
		assert.True(t, h.Equal(got), "round trip of %s", h)
		assert.Equal(t, h.Depth(), got.Depth())
	}
}

func TestBinary_Injective(t *testing.T) {
	key := New([]byte("k"), nil)
	plain := New([]byte("x"), nil)
	d := plain.Digest()
	scoped, err := FromBytes(d[:], &Opts{Key: &key})
	require.NoError(t, err)

	assert.NotEqual(t, plain.Key(), scoped.Key())
}

func TestUnmarshal_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xff, 0x00, 0x12}},
		{"short digest", []byte{0x82, 0x41, 0x01, 0xf6}},
		{"not an array", []byte{0x58, 0x20}},
		{"null", []byte{0xf6}},
		{"too large", make([]byte, maxEncodedSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Hash
			err := h.UnmarshalBinary(tt.data)
			require.Error(t, err)
			var de *DecodeError
			assert.True(t, errors.As(err, &de), "error %v is not a DecodeError", err)
		})
	}
}

func TestUnmarshal_TrailingBytes(t *testing.T) {
	raw := New([]byte("x"), nil).Bytes()
	raw = append(raw, 0x00)

	var h Hash
	assert.Error(t, h.UnmarshalBinary(raw))
}

func TestUnmarshal_ScopeTooDeep(t *testing.T) {
	h := New([]byte("0"), nil)
	for i := 0; i < MaxScopeDepth+1; i++ {
		key := h
		h = New([]byte{byte(i)}, &Opts{Key: &key})
	}
	require.Equal(t, MaxScopeDepth+1, h.Depth())

	var got Hash
	assert.Error(t, got.UnmarshalBinary(h.Bytes()))
}

func TestCompare_TotalOrder(t *testing.T) {
	key := New([]byte("key"), nil)
	var hashes []Hash
	for _, s := range []string{"a", "b", "c", "d"} {
		hashes = append(hashes, New([]byte(s), nil))
		hashes = append(hashes, New([]byte(s), &Opts{Key: &key}))
	}

	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Compare(hashes[j]) < 0 })
	for i := 1; i < len(hashes); i++ {
		if hashes[i-1].Compare(hashes[i]) >= 0 {
			t.Fatalf("hashes not strictly ordered at %d", i)
		}
	}
	for _, h := range hashes {
		assert.Equal(t, 0, h.Compare(h))
	}
}

func TestString(t *testing.T) {
	key := New([]byte("key"), nil)
	plain := New([]byte("x"), nil)
	scoped := New([]byte("x"), &Opts{Key: &key})

	assert.Len(t, plain.String(), 64)
	assert.Equal(t, key.Hex()+"|"+scoped.Hex(), scoped.String())
	assert.True(t, strings.HasPrefix(scoped.String(), key.Hex()))
}

func TestParseKey(t *testing.T) {
	key := New([]byte("key"), nil)
	h := New([]byte("x"), &Opts{Key: &key})

	got, err := ParseKey(h.KeyHex())
	require.NoError(t, err)
	assert.True(t, h.Equal(got))

	_, err = ParseKey("zz")
	assert.Error(t, err)
}

func TestCID(t *testing.T) {
	key := New([]byte("key"), nil)
	plain := New([]byte("x"), nil)
	scoped := New([]byte("x"), &Opts{Key: &key})

	assert.True(t, plain.CID().Equals(New([]byte("x"), nil).CID()))
	assert.False(t, plain.CID().Equals(scoped.CID()))
	assert.Equal(t, uint64(1), plain.CID().Version())
}

func TestHasher_MatchesNew(t *testing.T) {
	key := New([]byte("key"), nil)
	h := NewHasher(&Opts{Key: &key})
	_, _ = h.Write([]byte("hello "))
	_, _ = h.Write([]byte("world"))

	assert.True(t, h.Sum().Equal(New([]byte("hello world"), &Opts{Key: &key})))
}
