package netdelegate

import (
	"fmt"
	"io"

	"github.com/delegatechain/core/wire"
)

// maxPayloadSize bounds a single frame's body, guarding against a
// corrupt or hostile PayloadSize field driving an unbounded allocation.
const maxPayloadSize = 16 << 20 // 16 MiB; a full 1500-request batch is well under this

// assembler reads whole frames (header, then exactly PayloadSize bytes of
// body) off r, mirroring NetIOAssembler's ReadPrequel-then-ReadBytes
// split: the header is always a fixed 8 bytes, so the body length is
// known before any body byte is read.
type assembler struct {
	r io.Reader
}

func newAssembler(r io.Reader) *assembler {
	return &assembler{r: r}
}

// ReadFrame blocks until one full frame has arrived.
func (a *assembler) ReadFrame() (frame, error) {
	headerBuf := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(a.r, headerBuf); err != nil {
		return frame{}, err
	}
	var header wire.MessageHeader
	if err := header.UnmarshalBinary(headerBuf); err != nil {
		return frame{}, err
	}
	if header.PayloadSize > maxPayloadSize {
		return frame{}, fmt.Errorf("netdelegate: %w: %d", wire.ErrPayloadTooLarge, header.PayloadSize)
	}
	payload := make([]byte, header.PayloadSize)
	if header.PayloadSize > 0 {
		if _, err := io.ReadFull(a.r, payload); err != nil {
			return frame{}, err
		}
	}
	return frame{header: header, payload: payload}, nil
}
