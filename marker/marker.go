// Package marker frames the typed records stored in datafiles.
//
// Every marker starts with a fixed header:
//
//	offset  size  field
//	0       4     size (header + stored payload, unaligned)
//	4       1     type
//	5       1     compression
//	6       2     reserved
//	8       8     tick
//	16      8     checksum (xxh3 of header with checksum zeroed, then payload)
//	24      8     reserved
//
// Markers occupy Align(size) bytes. A header whose size field is zero marks
// the end of a segment.
package marker

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"
)

const (
	HeaderSize = 32
	Alignment  = 8

	// MaxSize bounds a single marker; anything larger is garbage.
	MaxSize = 1 << 30
)

type Type uint8

const (
	TypeBlank Type = iota
	TypeHeader
	TypeFooter
	TypePrologue
	TypeDocument
	TypeRemove
)

func (t Type) String() string {
	switch t {
	case TypeBlank:
		return "blank"
	case TypeHeader:
		return "header"
	case TypeFooter:
		return "footer"
	case TypePrologue:
		return "prologue"
	case TypeDocument:
		return "document"
	case TypeRemove:
		return "remove"
	}
	return fmt.Sprintf("unknown(%d)", t)
}

func (t Type) valid() bool {
	return t <= TypeRemove
}

// IsData reports whether the marker carries document data. Only data markers
// move the collection tick high-water mark.
func (t Type) IsData() bool {
	return t == TypeDocument || t == TypeRemove
}

var (
	ErrEndOfSegment = errors.New("end of segment")
	ErrTruncated    = errors.New("marker truncated")
	ErrChecksum     = errors.New("marker checksum mismatch")
	ErrInvalid      = errors.New("invalid marker header")
)

type Marker struct {
	Tick    uint64
	Type    Type
	Payload []byte
}

type Frame struct {
	Size        uint32
	Type        Type
	Compression Compression
	Tick        uint64
	Checksum    uint64
}

func (f Frame) AlignedSize() int64 {
	return Align(int64(f.Size))
}

func Align(n int64) int64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// ParseFrame reads a marker header. b must hold at least HeaderSize bytes.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < 4 {
		return Frame{}, ErrEndOfSegment
	}
	f := Frame{Size: binary.LittleEndian.Uint32(b[0:4])}
	if f.Size == 0 {
		return f, ErrEndOfSegment
	}
	if len(b) < HeaderSize {
		return f, ErrTruncated
	}
	f.Type = Type(b[4])
	f.Compression = Compression(b[5])
	f.Tick = binary.LittleEndian.Uint64(b[8:16])
	f.Checksum = binary.LittleEndian.Uint64(b[16:24])
	if f.Size < HeaderSize || f.Size > MaxSize || !f.Type.valid() {
		return f, ErrInvalid
	}
	return f, nil
}

func checksum(header, payload []byte) uint64 {
	var h [HeaderSize]byte
	copy(h[:], header[:HeaderSize])
	binary.LittleEndian.PutUint64(h[16:24], 0)

	hasher := xxh3.New()
	hasher.Write(h[:])
	hasher.Write(payload)
	return hasher.Sum64()
}

// Encode frames m. Only document payloads are compressed, and only when that
// makes them smaller.
func Encode(m Marker, c Compression) ([]byte, error) {
	payload := m.Payload
	stored := CompressionNone
	if m.Type == TypeDocument && c != CompressionNone {
		compressed, err := compress(c, payload)
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		if len(compressed) < len(payload) {
			payload = compressed
			stored = c
		}
	}

	size := int64(HeaderSize + len(payload))
	if size > MaxSize {
		return nil, fmt.Errorf("marker too big: %d bytes", size)
	}

	buf := make([]byte, Align(size))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	buf[4] = byte(m.Type)
	buf[5] = byte(stored)
	binary.LittleEndian.PutUint64(buf[8:16], m.Tick)
	copy(buf[HeaderSize:], payload)
	binary.LittleEndian.PutUint64(buf[16:24], checksum(buf, payload))

	return buf, nil
}

// EncodedSize is the aligned size Encode would produce without compression.
func EncodedSize(payloadLen int) int64 {
	return Align(int64(HeaderSize + payloadLen))
}

// Decode reads one marker from the beginning of b and returns it together with
// the aligned number of bytes it occupies.
func Decode(b []byte) (Marker, int64, error) {
	f, err := ParseFrame(b)
	if err != nil {
		return Marker{}, 0, err
	}
	if int64(f.Size) > int64(len(b)) {
		return Marker{}, 0, ErrTruncated
	}

	stored := b[HeaderSize:f.Size]
	if checksum(b, stored) != f.Checksum {
		return Marker{}, 0, ErrChecksum
	}

	payload, err := decompress(f.Compression, stored)
	if err != nil {
		return Marker{}, 0, fmt.Errorf("%w: %s", ErrInvalid, err.Error())
	}
	if f.Compression == CompressionNone {
		payload = append([]byte(nil), stored...)
	}

	return Marker{
		Tick:    f.Tick,
		Type:    f.Type,
		Payload: payload,
	}, f.AlignedSize(), nil
}

// SetTick restamps an encoded marker and refreshes its checksum.
func SetTick(buf []byte, tick uint64) error {
	f, err := ParseFrame(buf)
	if err != nil {
		return err
	}
	if int(f.Size) > len(buf) {
		return ErrTruncated
	}
	binary.LittleEndian.PutUint64(buf[8:16], tick)
	binary.LittleEndian.PutUint64(buf[16:24], checksum(buf, buf[HeaderSize:f.Size]))
	return nil
}
