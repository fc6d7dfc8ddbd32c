package vm

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"fortio.org/safecast"
)

// ---------------------------------------------------------------------------
// ImageWriter: Serializes a Program to a binary image
// ---------------------------------------------------------------------------

// ImageWriter encodes programs in the format Load accepts.
type ImageWriter struct {
	buf bytes.Buffer

	// Timestamp written into the header. Zero means time.Now().
	Timestamp int64
}

// NewImageWriter creates a new image writer.
func NewImageWriter() *ImageWriter {
	return &ImageWriter{}
}

// EncodeProgram returns the image bytes for p.
func EncodeProgram(p *Program) ([]byte, error) {
	return NewImageWriter().Encode(p)
}

// WriteProgram encodes p and writes it to w.
func WriteProgram(w io.Writer, p *Program) error {
	data, err := EncodeProgram(p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveFile encodes p and writes it to path.
func SaveFile(path string, p *Program) error {
	data, err := EncodeProgram(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write image %s: %w", path, err)
	}
	logger.Debugf("saved %d code objects to %s (%d bytes)", p.Len(), path, len(data))
	return nil
}

// Encode serializes p. A Ptr constant anywhere in the program makes the
// program unencodable; the error wraps ErrPersistedPointer.
func (w *ImageWriter) Encode(p *Program) ([]byte, error) {
	w.buf.Reset()

	ts := w.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	count, err := safecast.Convert[uint32](p.Len())
	if err != nil {
		return nil, fmt.Errorf("too many code objects: %w", err)
	}

	w.buf.Write(ImageMagic[:])
	w.writeUint32(ImageVersion)
	w.writeUint64(uint64(ts))
	w.writeUint32(count)

	for i, c := range p.code {
		if err := w.writeCodeObject(c); err != nil {
			return nil, fmt.Errorf("code object %d (%s): %w", i, c.name, err)
		}
	}
	return bytes.Clone(w.buf.Bytes()), nil
}

func (w *ImageWriter) writeCodeObject(c *CodeObject) error {
	if err := w.writeString(c.name); err != nil {
		return err
	}
	if err := w.writeLength(len(c.argNames)); err != nil {
		return err
	}
	for _, a := range c.argNames {
		if err := w.writeString(a); err != nil {
			return err
		}
	}
	w.writeUint16(c.localCount)
	w.writeUint16(c.maxStackSize)

	if err := w.writeLength(len(c.code)); err != nil {
		return err
	}
	w.buf.Write(c.code)

	if err := w.writeLength(len(c.constants)); err != nil {
		return err
	}
	var scratch []byte
	for i, v := range c.constants {
		var ok bool
		scratch, ok = appendValue(scratch[:0], v)
		if !ok {
			return fmt.Errorf("%w: constant %d is %s", ErrPersistedPointer, i, v)
		}
		w.buf.Write(scratch)
	}

	if err := w.writeLength(len(c.names)); err != nil {
		return err
	}
	for _, n := range c.names {
		if err := w.writeString(n); err != nil {
			return err
		}
	}
	return nil
}

func (w *ImageWriter) writeUint16(v uint16) {
	var b [2]byte
	WriteUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *ImageWriter) writeUint32(v uint32) {
	var b [4]byte
	WriteUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *ImageWriter) writeUint64(v uint64) {
	var b [8]byte
	WriteUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *ImageWriter) writeLength(n int) error {
	v, err := safecast.Convert[uint32](n)
	if err != nil {
		return fmt.Errorf("length %d: %w", n, err)
	}
	w.writeUint32(v)
	return nil
}

// writeString writes a length-prefixed string.
func (w *ImageWriter) writeString(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %q", ErrCorruptString, s)
	}
	if err := w.writeLength(len(s)); err != nil {
		return err
	}
	w.buf.WriteString(s)
	return nil
}
