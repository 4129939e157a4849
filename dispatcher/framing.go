package dispatcher

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/cvsouth/corenet/cores"
)

// maxFrameLen bounds a single CORES package frame so a malicious or
// corrupt peer cannot force an unbounded allocation.
const maxFrameLen = 16 << 20 // 16 MiB

// WriteFrame writes one CORES package using the wire format from spec
// §6: <len:u32><LiveCoresPackage:bytes>. Grounded on the teacher's
// cell.Writer, generalized from a fixed/variable Tor cell split to a
// single length-prefixed frame.
func WriteFrame(w io.Writer, pkg cores.LiveCoresPackage) error {
	body := pkg.Marshal()
	if len(body) > maxFrameLen {
		return fmt.Errorf("dispatcher: outbound frame too large (%s)", humanize.Bytes(uint64(len(body))))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("dispatcher: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("dispatcher: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes one CORES package frame from a buffered
// reader, grounded on the teacher's cell.Reader length-prefixed read
// idiom.
func ReadFrame(r *bufio.Reader) (cores.LiveCoresPackage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return cores.LiveCoresPackage{}, fmt.Errorf("dispatcher: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return cores.LiveCoresPackage{}, fmt.Errorf("dispatcher: inbound frame too large (%s)", humanize.Bytes(uint64(n)))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return cores.LiveCoresPackage{}, fmt.Errorf("dispatcher: read frame body: %w", err)
	}
	pkg, err := cores.Unmarshal(body)
	if err != nil {
		return cores.LiveCoresPackage{}, fmt.Errorf("dispatcher: decode frame: %w", err)
	}
	return pkg, nil
}
