package p2p

import (
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/gra-p2p/gra/internal/cbor"
	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/models"
)

const (
	// ProtocolBlock is the request/response protocol for blocks.
	ProtocolBlock = "/gra/block/1.0.0"

	// DHTPrefix namespaces the Kademlia protocol: /gra/kad/1.0.0.
	DHTPrefix = "/gra"

	// RecordNamespace is the DHT value namespace for block records.
	RecordNamespace = "gra"

	// DefaultMaxMessageSize bounds a single response.
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// maxRequestSize bounds a request; a request carries one hash.
	maxRequestSize = 4 * 1024
)

// BlockRequest asks a peer for the block with the given content hash.
type BlockRequest struct {
	cbor.StructAsArray
	Hash hash.Hash
}

// BlockResponse carries an encoded block, or null when the peer rejects
// the request.
type BlockResponse struct {
	cbor.StructAsArray
	Block cbor.RawMessage
}

// ResponseChannel answers one inbound request. The first call to Send or
// Reject wins; later calls return ErrConnectionClosed.
type ResponseChannel interface {
	Peer() peer.ID
	Send(b models.Block) error
	Reject() error
	// Written delivers the outcome of the write started by a successful
	// Send or Reject, then is closed.
	Written() <-chan error
}

// RecordKey is the DHT key under which a block record is stored.
func RecordKey(key []byte) string {
	return "/" + RecordNamespace + "/" + string(key)
}

func encodeRequest(h hash.Hash) ([]byte, error) {
	return cbor.Encode(BlockRequest{Hash: h})
}

func decodeRequest(data []byte) (BlockRequest, error) {
	var req BlockRequest
	if err := cbor.Decode(data, &req); err != nil {
		return BlockRequest{}, fmt.Errorf("malformed block request: %w", err)
	}
	return req, nil
}

func encodeResponse(b models.Block) ([]byte, error) {
	if b == nil {
		return cbor.Encode(BlockResponse{})
	}
	data, err := models.Encode(b)
	if err != nil {
		return nil, err
	}
	return cbor.Encode(BlockResponse{Block: data})
}

// decodeResponse returns ErrRejected for a null block.
func decodeResponse(data []byte) (models.Block, error) {
	var resp BlockResponse
	if err := cbor.Decode(data, &resp); err != nil {
		return nil, fmt.Errorf("malformed block response: %w", err)
	}
	if cbor.IsNull(resp.Block) {
		return nil, ErrRejected
	}
	return models.Decode(resp.Block)
}

// readMessage reads r to EOF, failing when it holds more than limit bytes.
func readMessage(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrMessageTooLarge
	}
	return data, nil
}
