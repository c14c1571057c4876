package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nyx-proto/shakeline/internal/base85"
	"github.com/nyx-proto/shakeline/internal/keyhandler"
)

// lengthPrefixSize is the size of the big-endian length prefix on every
// wire record.
const lengthPrefixSize = 4

// DefaultMaxFrameBytes is used when a Framer is constructed with a zero
// maxFrameBytes.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

// Framer implements the length-prefixed, base85-and-cipher record layer
// over a reliable byte stream. It owns no transport lifecycle of its
// own: closing the underlying connection is the caller's responsibility.
type Framer struct {
	r  io.Reader
	w  io.Writer
	kh *keyhandler.KeyHandler

	maxFrameBytes uint32
	onFrameError  func(error)
}

// New builds a Framer over rw using kh for encryption, capping accepted
// frame bodies at maxFrameBytes (DefaultMaxFrameBytes if zero).
func New(rw io.ReadWriter, kh *keyhandler.KeyHandler, maxFrameBytes uint32) *Framer {
	if maxFrameBytes == 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Framer{r: rw, w: rw, kh: kh, maxFrameBytes: maxFrameBytes}
}

// OnFrameError registers a hook invoked with the underlying cause any
// time Recv collapses a failure to (nil, false). Tests and logging use
// this; the dispatch loop never sees these errors directly.
func (f *Framer) OnFrameError(fn func(error)) {
	f.onFrameError = fn
}

func (f *Framer) reportError(err error) {
	if f.onFrameError != nil {
		f.onFrameError(err)
	}
}

// Send encodes, encrypts and writes dg as one wire record:
// u32_be(len(ciphertext)) || ciphertext, where
// ciphertext = encrypt(base85(json_utf8(dg))).
//
// Any write failure is swallowed (reported via OnFrameError, not
// returned); the next Recv on the peer will observe end-of-stream.
func (f *Framer) Send(dg *Datagram) error {
	payload, err := dg.ToJSON()
	if err != nil {
		return fmt.Errorf("wire: marshal datagram: %w", err)
	}

	encoded := base85.Encode(payload)
	ct, err := f.kh.Encrypt([]byte(encoded))
	if err != nil {
		return fmt.Errorf("wire: encrypt datagram: %w", err)
	}

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(ct)))

	if _, err := f.w.Write(prefix[:]); err != nil {
		f.reportError(err)
		return nil
	}
	if _, err := f.w.Write(ct); err != nil {
		f.reportError(err)
		return nil
	}
	return nil
}

// Recv reads one wire record and decodes it into a Datagram. Any failure
// at any stage — short length-prefix read, an oversize length prefix,
// decrypt/padding failure, base85 decode failure, or JSON parse failure —
// collapses to (nil, false); the underlying cause is reported via
// OnFrameError, never returned to the caller.
func (f *Framer) Recv() (*Datagram, bool) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(f.r, prefix[:]); err != nil {
		f.reportError(fmt.Errorf("wire: read length prefix: %w", err))
		return nil, false
	}
	n := binary.BigEndian.Uint32(prefix[:])

	if n > f.maxFrameBytes {
		f.reportError(fmt.Errorf("wire: frame of %d bytes exceeds cap of %d", n, f.maxFrameBytes))
		_ = f.Send(NewDatagram(CmdErr, ErrDisconnect))
		return nil, false
	}

	body := make([]byte, n)
	read, err := io.ReadFull(f.r, body)
	if err != nil {
		// io.ReadFull keeps reading until n bytes arrive; a body cut
		// short by EOF or an error is treated like any other framing
		// failure.
		f.reportError(fmt.Errorf("wire: read body (%d/%d bytes): %w", read, n, err))
		return nil, false
	}

	pt, err := f.kh.Decrypt(body)
	if err != nil {
		f.reportError(fmt.Errorf("wire: decrypt frame: %w", err))
		return nil, false
	}

	decoded, err := base85.Decode(string(pt))
	if err != nil {
		f.reportError(fmt.Errorf("wire: base85 decode frame: %w", err))
		return nil, false
	}

	dg, err := FromJSON(decoded)
	if err != nil {
		f.reportError(fmt.Errorf("wire: parse datagram: %w", err))
		return nil, false
	}

	return dg, true
}
