package neighborhood

import (
	"encoding/binary"
	"fmt"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/nodeaddr"
	"github.com/cvsouth/corenet/wallet"
)

// MarshalGossip serializes a Gossip for the wire. The length-prefix
// framing Dispatcher applies on top (<len:u32><bytes>) is not included
// here; this is the Gossip struct encoding alone (spec §6).
func MarshalGossip(g Gossip) []byte {
	out := appendU16(nil, uint16(len(g.Records)))
	for _, rec := range g.Records {
		out = marshalRecord(out, rec)
	}
	return out
}

func marshalRecord(out []byte, rec GossipNodeRecord) []byte {
	out = marshalInner(out, rec.Inner)
	out = appendLP(out, rec.Sigs.Complete)
	out = appendLP(out, rec.Sigs.Obscured)
	return out
}

func marshalInner(out []byte, n NodeRecordInner) []byte {
	out = appendLP(out, n.PublicKey)
	if n.NodeAddr != nil {
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

// UnmarshalGossip parses the bytes produced by MarshalGossip.
func UnmarshalGossip(b []byte) (Gossip, error) {
	if len(b) < 2 {
		return Gossip{}, fmt.Errorf("neighborhood: gossip truncated")
	}
	count := int(binary.BigEndian.Uint16(b[:2]))
	off := 2
	records := make([]GossipNodeRecord, 0, count)
	for i := 0; i < count; i++ {
		rec, next, err := unmarshalRecord(b, off)
		if err != nil {
			return Gossip{}, fmt.Errorf("neighborhood: record %d: %w", i, err)
		}
		records = append(records, rec)
		off = next
	}
	if off != len(b) {
		return Gossip{}, fmt.Errorf("neighborhood: trailing garbage (%d bytes)", len(b)-off)
	}
	return Gossip{Records: records}, nil
}

func unmarshalRecord(b []byte, off int) (GossipNodeRecord, int, error) {
	inner, off, err := unmarshalInner(b, off)
	if err != nil {
		return GossipNodeRecord{}, 0, err
	}
	complete, off, err := readLP(b, off)
	if err != nil {
		return GossipNodeRecord{}, 0, fmt.Errorf("complete signature: %w", err)
	}
	obscured, off, err := readLP(b, off)
	if err != nil {
		return GossipNodeRecord{}, 0, fmt.Errorf("obscured signature: %w", err)
	}
	return GossipNodeRecord{
		Inner: inner,
		Sigs:  NodeSignatures{Complete: complete, Obscured: obscured},
	}, off, nil
}

func unmarshalInner(b []byte, off int) (NodeRecordInner, int, error) {
	pubKey, off, err := readLP(b, off)
	if err != nil {
		return NodeRecordInner{}, 0, fmt.Errorf("public_key: %w", err)
	}
	n := NodeRecordInner{PublicKey: cryptde.PublicKey(pubKey)}

	if off >= len(b) {
		return NodeRecordInner{}, 0, fmt.Errorf("truncated node_addr flag")
	}
	hasAddr := b[off]
	off++
	if hasAddr == 1 {
		ipBytes, next, err := readLP(b, off)
		if err != nil {
			return NodeRecordInner{}, 0, fmt.Errorf("node_addr ip: %w", err)
		}
		off = next
		if off+2 > len(b) {
			return NodeRecordInner{}, 0, fmt.Errorf("truncated port count")
		}
		portCount := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		ports := make([]uint16, portCount)
		for i := 0; i < portCount; i++ {
			if off+2 > len(b) {
				return NodeRecordInner{}, 0, fmt.Errorf("truncated port %d", i)
			}
			ports[i] = binary.BigEndian.Uint16(b[off : off+2])
			off += 2
		}
		addr, err := nodeaddrFromParts(string(ipBytes), ports)
		if err != nil {
			return NodeRecordInner{}, 0, err
		}
		n.NodeAddr = addr
	}

	if off >= len(b) {
		return NodeRecordInner{}, 0, fmt.Errorf("truncated is_bootstrap flag")
	}
	n.IsBootstrapNode = b[off] == 1
	off++

	earningAddr, off, err := readLP(b, off)
	if err != nil {
		return NodeRecordInner{}, 0, fmt.Errorf("earning_wallet: %w", err)
	}
	n.EarningWallet = wallet.New(string(earningAddr))

	if off >= len(b) {
		return NodeRecordInner{}, 0, fmt.Errorf("truncated consuming_wallet flag")
	}
	hasConsuming := b[off]
	off++
	if hasConsuming == 1 {
		consumingAddr, next, err := readLP(b, off)
		if err != nil {
			return NodeRecordInner{}, 0, fmt.Errorf("consuming_wallet: %w", err)
		}
		off = next
		w := wallet.New(string(consumingAddr))
		n.ConsumingWallet = &w
	}

	if off+2 > len(b) {
		return NodeRecordInner{}, 0, fmt.Errorf("truncated neighbor count")
	}
	neighborCount := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	neighbors := make([]cryptde.PublicKey, neighborCount)
	for i := 0; i < neighborCount; i++ {
		k, next, err := readLP(b, off)
		if err != nil {
			return NodeRecordInner{}, 0, fmt.Errorf("neighbor %d: %w", i, err)
		}
		neighbors[i] = cryptde.PublicKey(k)
		off = next
	}
	n.Neighbors = neighbors

	if off+4 > len(b) {
		return NodeRecordInner{}, 0, fmt.Errorf("truncated version")
	}
	n.Version = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	return n, off, nil
}

func readLP(b []byte, off int) (data []byte, next int, err error) {
	if off+2 > len(b) {
		return nil, 0, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+n > len(b) {
		return nil, 0, fmt.Errorf("truncated field (want %d bytes)", n)
	}
	return b[off : off+n], off + n, nil
}

func nodeaddrFromParts(ip string, ports []uint16) (*nodeaddr.NodeAddr, error) {
	parsed, err := nodeaddr.Parse(fmt.Sprintf("%s:%s", ip, portCSV(ports)))
	if err != nil {
		return nil, fmt.Errorf("node_addr: %w", err)
	}
	return parsed, nil
}

func portCSV(ports []uint16) string {
	out := ""
	for i, p := range ports {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", p)
	}
	return out
}
