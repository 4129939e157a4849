package seqpacket

import "testing"

func TestNewCopiesData(t *testing.T) {
	data := []byte("hello")
	p := New(data, 3, true)
	data[0] = 'H'
	if p.Data[0] != 'h' {
		t.Fatal("New did not copy data: mutation leaked through")
	}
	if p.SequenceNumber != 3 || !p.LastData {
		t.Fatalf("got %+v, want SequenceNumber=3 LastData=true", p)
	}
}

func TestNewEmptyData(t *testing.T) {
	p := New(nil, 0, false)
	if len(p.Data) != 0 {
		t.Fatalf("got %d bytes, want 0", len(p.Data))
	}
}
