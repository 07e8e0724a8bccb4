package models

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gra-p2p/gra/internal/hash"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

func TestNewEntry(t *testing.T) {
	key := hash.New([]byte("/tmp/file.txt"), nil)
	b := NewBytes([]byte("hello world"))

	e := NewEntry(key, b)
	assert.True(t, e.Key().Equal(key))
	assert.True(t, e.Value().Equal(b.Hash()))
}

func TestNewEntry_ScopedComposite(t *testing.T) {
	scope := hash.New([]byte("scope"), nil)
	c := NewComposite(time.Now(), 0, &scope, []byte("x"), nil)

	e := NewEntry(hash.New([]byte("k"), nil), c)
	require.True(t, e.Value().IsScoped())
	assert.True(t, e.Value().Scope().Equal(scope))
}

func TestEntry_Binary(t *testing.T) {
	scope := hash.New([]byte("scope"), nil)
	e := NewEntry(hash.New([]byte("k"), &hash.Opts{Key: &scope}), NewBytes([]byte("v")))

	data, err := e.MarshalBinary()
	require.NoError(t, err)

	var got Entry
	require.NoError(t, got.UnmarshalBinary(data))
	assert.True(t, e.Equal(got))

	assert.Error(t, got.UnmarshalBinary([]byte{0x82, 0xf6, 0xf6}))
	assert.Error(t, got.UnmarshalBinary([]byte("junk")))
}

func TestToRecord(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	publisher := testPeerID(t)
	policy := DefaultRecordPolicy()
	target := NewBytes([]byte("target"))

	t.Run("ref", func(t *testing.T) {
		rec, err := ToRecord(NewRef(target.Hash()), publisher, policy, now)
		require.NoError(t, err)
		assert.Equal(t, target.Hash().Bytes(), rec.Key)
		assert.Empty(t, rec.Value)
		assert.Equal(t, peer.ID(""), rec.Publisher)
		assert.Equal(t, now.Add(time.Hour), rec.Expires)
		assert.False(t, rec.Expired(now))
		assert.True(t, rec.Expired(now.Add(time.Hour)))
	})

	t.Run("bytes", func(t *testing.T) {
		rec, err := ToRecord(target, publisher, policy, now)
		require.NoError(t, err)
		assert.Equal(t, target.Data(), rec.Key)
		assert.Empty(t, rec.Value)
		assert.False(t, rec.HasExpiry())
	})

	t.Run("composite", func(t *testing.T) {
		c := NewComposite(now, 3, nil, []byte("payload"), nil)
		rec, err := ToRecord(c, publisher, policy, now)
		require.NoError(t, err)
		assert.Equal(t, c.Hash().Bytes(), rec.Key)
		assert.Equal(t, publisher, rec.Publisher)
		assert.False(t, rec.HasExpiry())

		decoded, err := Decode(rec.Value)
		require.NoError(t, err)
		assert.True(t, Equal(c, decoded))
	})

	t.Run("configurable expiry", func(t *testing.T) {
		p := RecordPolicy{BytesTTL: time.Minute}
		rec, err := ToRecord(target, publisher, p, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Minute), rec.Expires)
	})
}

func TestRecordValue(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewComposite(now, 3, nil, []byte("payload"), nil)
	rec, err := ToRecord(c, testPeerID(t), RecordPolicy{CompositeTTL: time.Hour}, now)
	require.NoError(t, err)

	data, err := rec.MarshalValue()
	require.NoError(t, err)

	got, err := UnmarshalRecordValue(rec.Key, data)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, got.Key)
	assert.Equal(t, rec.Value, got.Value)
	assert.Equal(t, rec.Publisher, got.Publisher)
	assert.True(t, rec.Expires.Equal(got.Expires))
}
