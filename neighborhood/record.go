// Package neighborhood maintains the signed node database, handles
// gossip in and out, answers route queries, and tracks neighbors and
// their reported addresses. Grounded on the teacher's directory package
// (signed, versioned relay records) and pathselect package (constrained
// weighted path search), generalized from Tor's fixed directory-authority
// consensus model to peer-to-peer signed gossip with per-record
// versioning.
package neighborhood

import (
	"encoding/binary"
	"fmt"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/nodeaddr"
	"github.com/cvsouth/corenet/wallet"
)

// NodeRecordInner is the signable body of a gossiped node record.
type NodeRecordInner struct {
	PublicKey       cryptde.PublicKey
	NodeAddr        *nodeaddr.NodeAddr
	IsBootstrapNode bool
	EarningWallet   wallet.Wallet
	ConsumingWallet *wallet.Wallet
	Neighbors       []cryptde.PublicKey
	Version         uint32
}

// Canonical encodes the inner record deterministically for signing. When
// includeAddr is false, NodeAddr is omitted regardless of whether it is
// set — producing the "obscured" canonicalization that lets a node
// gossip its existence without leaking its IP to parties that should not
// learn it.
func (n NodeRecordInner) Canonical(includeAddr bool) []byte {
	var out []byte
	out = appendLP(out, n.PublicKey)

	if includeAddr && n.NodeAddr != nil {
		out = append(out, 1)
		out = appendLP(out, []byte(n.NodeAddr.IP.String()))
		out = appendU16(out, uint16(len(n.NodeAddr.Ports)))
		for _, p := range n.NodeAddr.Ports {
			out = appendU16(out, p)
		}
	} else {
		out = append(out, 0)
	}

	if n.IsBootstrapNode {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}

	out = appendLP(out, []byte(n.EarningWallet.Address))

	if n.ConsumingWallet != nil {
		out = append(out, 1)
		out = appendLP(out, []byte(n.ConsumingWallet.Address))
	} else {
		out = append(out, 0)
	}

	out = appendU16(out, uint16(len(n.Neighbors)))
	for _, k := range n.Neighbors {
		out = appendLP(out, k)
	}

	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], n.Version)
	out = append(out, verBuf[:]...)

	return out
}

func appendLP(out, data []byte) []byte {
	out = appendU16(out, uint16(len(data)))
	return append(out, data...)
}

func appendU16(out []byte, v uint16) []byte {
	return append(out, byte(v>>8), byte(v))
}

// NodeSignatures carries two signatures over the same inner record: one
// covering the full record (NodeAddr included) and one covering the
// record with NodeAddr omitted, so a node's existence can be gossiped to
// parties that should not learn its address.
type NodeSignatures struct {
	Complete []byte
	Obscured []byte
}

// Sign produces both signature variants for inner using de.
func Sign(de cryptde.CryptDE, inner NodeRecordInner) (NodeSignatures, error) {
	complete, err := de.Sign(inner.Canonical(true))
	if err != nil {
		return NodeSignatures{}, fmt.Errorf("neighborhood: sign complete record: %w", err)
	}
	obscured, err := de.Sign(inner.Canonical(false))
	if err != nil {
		return NodeSignatures{}, fmt.Errorf("neighborhood: sign obscured record: %w", err)
	}
	return NodeSignatures{Complete: complete, Obscured: obscured}, nil
}

// Verify checks that at least the obscured signature (always present and
// always verifiable, since it never depends on address visibility) is
// valid for inner under inner.PublicKey. If NodeAddr is set and Complete
// is non-empty, the complete signature is checked too.
func Verify(de cryptde.CryptDE, inner NodeRecordInner, sigs NodeSignatures) bool {
	if !de.Verify(inner.PublicKey, inner.Canonical(false), sigs.Obscured) {
		return false
	}
	if inner.NodeAddr != nil && len(sigs.Complete) > 0 {
		return de.Verify(inner.PublicKey, inner.Canonical(true), sigs.Complete)
	}
	return true
}

// GossipNodeRecord is one signed entry exchanged between nodes.
type GossipNodeRecord struct {
	Inner NodeRecordInner
	Sigs  NodeSignatures
}

// Gossip is an ordered batch of records exchanged between two nodes.
type Gossip struct {
	Records []GossipNodeRecord
}
