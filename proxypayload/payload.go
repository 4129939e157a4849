// Package proxypayload defines the two message shapes that travel as the
// encrypted payload inside a CORES package between ProxyServer (origin)
// and ProxyClient (exit): ClientRequestPayload outbound, ClientResponsePayload
// return. Wire layout follows the same length-prefixed idiom as
// route.RouteElement and neighborhood's Gossip codec.
package proxypayload

import (
	"encoding/binary"
	"fmt"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/seqpacket"
	"github.com/cvsouth/corenet/streamkey"
)

// Protocol names the client-facing wire protocol ProxyServer sniffed,
// so ProxyClient knows how to frame its upstream connection if it ever
// needs to (kept as a tag rather than inferred again on the exit side).
type Protocol uint8

const (
	ProtocolHTTP Protocol = iota
	ProtocolTLS
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "HTTP"
	case ProtocolTLS:
		return "TLS"
	default:
		return "UNKNOWN"
	}
}

// ClientRequestPayload is sent origin → exit, one per TCP segment observed
// on the origin's client connection for a given StreamKey.
type ClientRequestPayload struct {
	StreamKey           streamkey.StreamKey
	SequencedPacket     seqpacket.SequencedPacket
	TargetHostname      string
	TargetPort          uint16
	Protocol            Protocol
	OriginatorPublicKey cryptde.PublicKey
}

// ClientResponsePayload is sent exit → origin, one per chunk read from the
// upstream TCP connection (or a single synthetic last_data packet on
// resolver failure / stream abandonment).
type ClientResponsePayload struct {
	StreamKey       streamkey.StreamKey
	SequencedPacket seqpacket.SequencedPacket
}

func appendLP(buf []byte, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

func readLP(b []byte) (data []byte, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("proxypayload: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("proxypayload: truncated field (want %d, have %d)", n, len(b))
	}
	return b[:n], b[n:], nil
}

func marshalSequencedPacket(p seqpacket.SequencedPacket) []byte {
	buf := make([]byte, 0, 9+len(p.Data))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], p.SequenceNumber)
	buf = append(buf, seqBuf[:]...)
	if p.LastData {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendLP(buf, p.Data)
	return buf
}

func unmarshalSequencedPacket(b []byte) (seqpacket.SequencedPacket, []byte, error) {
	if len(b) < 9 {
		return seqpacket.SequencedPacket{}, nil, fmt.Errorf("proxypayload: truncated sequenced packet")
	}
	seq := binary.BigEndian.Uint64(b[:8])
	lastData := b[8] != 0
	data, rest, err := readLP(b[9:])
	if err != nil {
		return seqpacket.SequencedPacket{}, nil, err
	}
	return seqpacket.SequencedPacket{Data: data, SequenceNumber: seq, LastData: lastData}, rest, nil
}

// Marshal encodes a ClientRequestPayload:
// <stream_key:32><sequenced_packet><hostname_len:u32><hostname><port:u16><protocol:u8><origkey_len:u32><origkey>
func (p ClientRequestPayload) Marshal() []byte {
	buf := make([]byte, 0, 64+len(p.SequencedPacket.Data)+len(p.TargetHostname)+len(p.OriginatorPublicKey))
	buf = append(buf, p.StreamKey[:]...)
	buf = append(buf, marshalSequencedPacket(p.SequencedPacket)...)
	buf = appendLP(buf, []byte(p.TargetHostname))
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], p.TargetPort)
	buf = append(buf, portBuf[:]...)
	buf = append(buf, byte(p.Protocol))
	buf = appendLP(buf, p.OriginatorPublicKey)
	return buf
}

// UnmarshalClientRequestPayload reverses Marshal.
func UnmarshalClientRequestPayload(b []byte) (ClientRequestPayload, error) {
	if len(b) < 32 {
		return ClientRequestPayload{}, fmt.Errorf("proxypayload: truncated request payload")
	}
	var p ClientRequestPayload
	copy(p.StreamKey[:], b[:32])
	rest := b[32:]

	sp, rest, err := unmarshalSequencedPacket(rest)
	if err != nil {
		return ClientRequestPayload{}, err
	}
	p.SequencedPacket = sp

	hostname, rest, err := readLP(rest)
	if err != nil {
		return ClientRequestPayload{}, err
	}
	p.TargetHostname = string(hostname)

	if len(rest) < 3 {
		return ClientRequestPayload{}, fmt.Errorf("proxypayload: truncated request tail")
	}
	p.TargetPort = binary.BigEndian.Uint16(rest[:2])
	p.Protocol = Protocol(rest[2])
	rest = rest[3:]

	origKey, _, err := readLP(rest)
	if err != nil {
		return ClientRequestPayload{}, err
	}
	p.OriginatorPublicKey = cryptde.PublicKey(origKey)

	return p, nil
}

// Marshal encodes a ClientResponsePayload: <stream_key:32><sequenced_packet>
func (p ClientResponsePayload) Marshal() []byte {
	buf := make([]byte, 0, 41+len(p.SequencedPacket.Data))
	buf = append(buf, p.StreamKey[:]...)
	buf = append(buf, marshalSequencedPacket(p.SequencedPacket)...)
	return buf
}

// UnmarshalClientResponsePayload reverses Marshal.
func UnmarshalClientResponsePayload(b []byte) (ClientResponsePayload, error) {
	if len(b) < 32 {
		return ClientResponsePayload{}, fmt.Errorf("proxypayload: truncated response payload")
	}
	var p ClientResponsePayload
	copy(p.StreamKey[:], b[:32])
	sp, _, err := unmarshalSequencedPacket(b[32:])
	if err != nil {
		return ClientResponsePayload{}, err
	}
	p.SequencedPacket = sp
	return p, nil
}
