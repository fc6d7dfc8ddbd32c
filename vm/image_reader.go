package vm

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"fortio.org/safecast"
)

// Minimum encoded sizes, used to reject absurd counts before allocating.
const (
	minStringSize     = 4                                      // u32 length, empty string
	minConstantSize   = 1                                      // tag only (Null)
	minCodeObjectSize = minStringSize + 4 + 2 + 2 + 4 + 4 + 4 // name, argc, locals, stack, code len, consts, names
)

// ---------------------------------------------------------------------------
// ImageReader: Reads and validates a program image
// ---------------------------------------------------------------------------

// ImageReader decodes one image. It is not reusable; use Load.
type ImageReader struct {
	data      []byte // Full image data
	offset    int    // Current read position
	codeIndex int    // Code object being read, -1 while in the header
}

// Load parses and validates an image. Loading is all-or-nothing: on any
// failure the returned Program is nil and the error is a *LoadError.
func Load(data []byte) (*Program, error) {
	r := &ImageReader{data: data, codeIndex: -1}
	p, err := r.readProgram()
	if err != nil {
		logger.Debugf("image rejected: %v", err)
		return nil, err
	}
	logger.Debugf("loaded image v%d with %d code objects (%d bytes)", p.Header.Version, p.Len(), len(data))
	return p, nil
}

// LoadReader reads the whole of rd and loads it as an image.
func LoadReader(rd io.Reader) (*Program, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return Load(data)
}

// LoadFile loads the image stored at path.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read image %s: %w", path, err)
	}
	p, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (r *ImageReader) fail(kind LoadErrorKind, format string, args ...any) *LoadError {
	return &LoadError{
		Kind:      kind,
		Offset:    r.offset,
		CodeIndex: r.codeIndex,
		Detail:    fmt.Sprintf(format, args...),
	}
}

func (r *ImageReader) remaining() int {
	return len(r.data) - r.offset
}

// ---------------------------------------------------------------------------
// Primitive reads
// ---------------------------------------------------------------------------

func (r *ImageReader) readBytes(n int, what string) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, r.fail(TruncatedBytecode, "%s needs %d bytes, %d remain", what, n, r.remaining())
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *ImageReader) readUint16(what string) (uint16, error) {
	b, err := r.readBytes(2, what)
	if err != nil {
		return 0, err
	}
	return ReadUint16(b), nil
}

func (r *ImageReader) readUint32(what string) (uint32, error) {
	b, err := r.readBytes(4, what)
	if err != nil {
		return 0, err
	}
	return ReadUint32(b), nil
}

func (r *ImageReader) readUint64(what string) (uint64, error) {
	b, err := r.readBytes(8, what)
	if err != nil {
		return 0, err
	}
	return ReadUint64(b), nil
}

// readLength reads a u32 length or count and converts it to int.
func (r *ImageReader) readLength(what string) (int, error) {
	n, err := r.readUint32(what)
	if err != nil {
		return 0, err
	}
	length, err := safecast.Convert[int](n)
	if err != nil {
		return 0, r.fail(TruncatedBytecode, "%s %d: %v", what, n, err)
	}
	return length, nil
}

// readCount reads a u32 element count and rejects counts that cannot fit in
// the remaining data given each element's minimum size.
func (r *ImageReader) readCount(what string, minElem int) (int, error) {
	n, err := r.readLength(what)
	if err != nil {
		return 0, err
	}
	if n > r.remaining()/minElem {
		return 0, r.fail(TruncatedBytecode, "%s %d exceeds remaining %d bytes", what, n, r.remaining())
	}
	return n, nil
}

// readString reads a length-prefixed UTF-8 string.
// The format is [length:u32 | utf8 bytes].
func (r *ImageReader) readString(what string) (string, error) {
	length, err := r.readLength(what + " length")
	if err != nil {
		return "", err
	}
	start := r.offset
	b, err := r.readBytes(length, what)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		r.offset = start
		return "", r.fail(CorruptString, "%s", what)
	}
	return string(b), nil
}

// readValue reads one tagged constant.
func (r *ImageReader) readValue(index int) (Value, error) {
	tagOffset := r.offset
	tagByte, err := r.readBytes(1, fmt.Sprintf("constant %d tag", index))
	if err != nil {
		return Null, err
	}
	tag := tagByte[0]
	if tag == imageTagPtr {
		r.offset = tagOffset
		return Null, r.fail(PersistedPointer, "constant %d", index)
	}
	size, ok := payloadSize(tag)
	if !ok {
		r.offset = tagOffset
		return Null, r.fail(CorruptConstant, "constant %d has tag 0x%02X", index, tag)
	}
	payload, err := r.readBytes(size, fmt.Sprintf("constant %d payload", index))
	if err != nil {
		return Null, err
	}
	if tag == imageTagBool && payload[0] > 1 {
		r.offset = tagOffset
		return Null, r.fail(CorruptConstant, "constant %d has Bool byte 0x%02X", index, payload[0])
	}
	return decodePayload(tag, payload), nil
}

// ---------------------------------------------------------------------------
// Structure reads
// ---------------------------------------------------------------------------

// ReadHeader reads and validates the image header.
func (r *ImageReader) ReadHeader() (Header, error) {
	var h Header
	r.offset = 0

	// Fewer than four bytes is TruncatedBytecode, not InvalidMagic.
	magic, err := r.readBytes(4, "magic")
	if err != nil {
		return h, err
	}
	copy(h.Magic[:], magic)
	if h.Magic != ImageMagic {
		r.offset = 0
		return h, r.fail(InvalidMagic, "got %q", magic)
	}

	if h.Version, err = r.readUint32("version"); err != nil {
		return h, err
	}
	if !supportedVersions[h.Version] {
		r.offset -= 4
		return h, r.fail(UnsupportedVersion, "version %d, loader supports %d", h.Version, ImageVersion)
	}

	ts, err := r.readUint64("timestamp")
	if err != nil {
		return h, err
	}
	h.Timestamp = int64(ts)

	if h.CodeObjectCount, err = r.readUint32("code object count"); err != nil {
		return h, err
	}
	if h.CodeObjectCount == 0 {
		r.offset -= 4
		return h, r.fail(EmptyProgram, "")
	}
	return h, nil
}

func (r *ImageReader) readProgram() (*Program, error) {
	h, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}

	count, err := safecast.Convert[int](h.CodeObjectCount)
	if err != nil {
		return nil, r.fail(TruncatedBytecode, "code object count %d: %v", h.CodeObjectCount, err)
	}

	// An oversized count fails on the first missing object; cap the
	// allocation by what the data could hold.
	code := make([]*CodeObject, 0, min(count, r.remaining()/minCodeObjectSize))
	for i := 0; i < count; i++ {
		r.codeIndex = i
		c, err := r.readCodeObject()
		if err != nil {
			return nil, err
		}
		code = append(code, c)
	}
	r.codeIndex = -1

	if r.remaining() != 0 {
		return nil, r.fail(TrailingData, "%d bytes", r.remaining())
	}

	p, err := NewProgram(code...)
	if err != nil {
		return nil, err
	}
	p.Header = h
	return p, nil
}

// readCodeObject reads one code object at the current position.
func (r *ImageReader) readCodeObject() (*CodeObject, error) {
	var def CodeDef
	var err error

	if def.Name, err = r.readString("name"); err != nil {
		return nil, err
	}

	argc, err := r.readCount("argument count", minStringSize)
	if err != nil {
		return nil, err
	}
	def.ArgNames = make([]string, argc)
	for i := range def.ArgNames {
		if def.ArgNames[i], err = r.readString(fmt.Sprintf("argument name %d", i)); err != nil {
			return nil, err
		}
	}

	if def.LocalCount, err = r.readUint16("local count"); err != nil {
		return nil, err
	}
	if def.MaxStackSize, err = r.readUint16("max stack size"); err != nil {
		return nil, err
	}

	codeLen, err := r.readLength("instruction length")
	if err != nil {
		return nil, err
	}
	// Aliased into the image here; NewCodeObject copies it.
	if def.Instructions, err = r.readBytes(codeLen, "instructions"); err != nil {
		return nil, err
	}

	constCount, err := r.readCount("constant count", minConstantSize)
	if err != nil {
		return nil, err
	}
	def.Constants = make([]Value, constCount)
	for i := range def.Constants {
		if def.Constants[i], err = r.readValue(i); err != nil {
			return nil, err
		}
	}

	nameCount, err := r.readCount("name count", minStringSize)
	if err != nil {
		return nil, err
	}
	def.Names = make([]string, nameCount)
	for i := range def.Names {
		if def.Names[i], err = r.readString(fmt.Sprintf("name %d", i)); err != nil {
			return nil, err
		}
	}

	return NewCodeObject(def), nil
}
