package models

import "github.com/libp2p/go-libp2p/core/peer"

// Peer pairs a peer with the number of blocks it has successfully served us.
type Peer struct {
	ID         peer.ID
	Confidence uint64
}
