package proxypayload

import (
	"bytes"
	"testing"

	"github.com/cvsouth/corenet/cryptde"
	"github.com/cvsouth/corenet/seqpacket"
	"github.com/cvsouth/corenet/streamkey"
)

func TestClientRequestPayloadRoundTrip(t *testing.T) {
	key := streamkey.New(cryptde.PublicKey("origin"), "example.com", 443)
	p := ClientRequestPayload{
		StreamKey:           key,
		SequencedPacket:     seqpacket.New([]byte("GET / HTTP/1.1\r\n"), 0, false),
		TargetHostname:      "example.com",
		TargetPort:          443,
		Protocol:            ProtocolTLS,
		OriginatorPublicKey: cryptde.PublicKey("origin-public-key"),
	}

	got, err := UnmarshalClientRequestPayload(p.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalClientRequestPayload: %v", err)
	}
	if got.StreamKey != p.StreamKey {
		t.Fatalf("stream key mismatch: got %v, want %v", got.StreamKey, p.StreamKey)
	}
	if !bytes.Equal(got.SequencedPacket.Data, p.SequencedPacket.Data) {
		t.Fatalf("data mismatch: got %q, want %q", got.SequencedPacket.Data, p.SequencedPacket.Data)
	}
	if got.TargetHostname != p.TargetHostname || got.TargetPort != p.TargetPort {
		t.Fatalf("target mismatch: got %s:%d, want %s:%d", got.TargetHostname, got.TargetPort, p.TargetHostname, p.TargetPort)
	}
	if got.Protocol != p.Protocol {
		t.Fatalf("protocol mismatch: got %v, want %v", got.Protocol, p.Protocol)
	}
	if !got.OriginatorPublicKey.Equal(p.OriginatorPublicKey) {
		t.Fatalf("originator key mismatch: got %v, want %v", got.OriginatorPublicKey, p.OriginatorPublicKey)
	}
}

func TestClientResponsePayloadRoundTrip(t *testing.T) {
	key := streamkey.New(cryptde.PublicKey("origin"), "example.com", 443)
	p := ClientResponsePayload{
		StreamKey:       key,
		SequencedPacket: seqpacket.New([]byte("HTTP/1.1 200 OK\r\n"), 4, true),
	}
	got, err := UnmarshalClientResponsePayload(p.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalClientResponsePayload: %v", err)
	}
	if got.StreamKey != p.StreamKey {
		t.Fatalf("stream key mismatch")
	}
	if got.SequencedPacket.SequenceNumber != 4 || !got.SequencedPacket.LastData {
		t.Fatalf("got %+v, want SequenceNumber=4 LastData=true", got.SequencedPacket)
	}
	if !bytes.Equal(got.SequencedPacket.Data, p.SequencedPacket.Data) {
		t.Fatalf("data mismatch: got %q", got.SequencedPacket.Data)
	}
}

func TestProtocolString(t *testing.T) {
	tests := []struct {
		p    Protocol
		want string
	}{
		{ProtocolHTTP, "HTTP"},
		{ProtocolTLS, "TLS"},
		{Protocol(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Protocol(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	if _, err := UnmarshalClientRequestPayload(make([]byte, 10)); err == nil {
		t.Error("UnmarshalClientRequestPayload on truncated input: expected error")
	}
	if _, err := UnmarshalClientResponsePayload(make([]byte, 10)); err == nil {
		t.Error("UnmarshalClientResponsePayload on truncated input: expected error")
	}
}
