// Package seqpacket defines the reassembly unit used for stream data
// carried inside ClientRequestPayload and ClientResponsePayload.
package seqpacket

// SequencedPacket is one chunk of a byte stream, ordered by SequenceNumber
// relative to other packets sharing the same StreamKey. LastData marks
// the final chunk of the stream (FIN on the origin side, EOF on the exit
// side).
type SequencedPacket struct {
	Data           []byte
	SequenceNumber uint64
	LastData       bool
}

// New builds a SequencedPacket, copying data into its own slice.
func New(data []byte, seq uint64, lastData bool) SequencedPacket {
	d := make([]byte, len(data))
	copy(d, data)
	return SequencedPacket{Data: d, SequenceNumber: seq, LastData: lastData}
}
