package neighborhood

import "github.com/cvsouth/corenet/nodeaddr"

// NeighborhoodConfig is the decentralization posture this node was
// started with. Mirrors the Rust original's NeighborhoodConfig exactly:
// a node is only decentralized when it has a real IP, at least one
// configured neighbor, and at least one clandestine listening port.
type NeighborhoodConfig struct {
	LocalNodeRef        NodeReference
	NeighborConfigs      []NodeReference
	ClandestinePortList  []uint16
}

// IsDecentralized reports whether this node participates in the overlay
// (spec §4.2 Zero-hop mode). Any one of: a sentinel IP, no configured
// neighbors, or no clandestine ports, makes the node degenerate to
// same-process loopback routing.
func (c NeighborhoodConfig) IsDecentralized() bool {
	if c.LocalNodeRef.NodeAddr == nil || nodeaddr.IsSentinel(c.LocalNodeRef.NodeAddr.IP) {
		return false
	}
	if len(c.NeighborConfigs) == 0 {
		return false
	}
	if len(c.ClandestinePortList) == 0 {
		return false
	}
	return true
}
