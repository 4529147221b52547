package marker

import (
	"bytes"
	"testing"

	. "github.com/fulldump/biff"
)

func TestEncodeDecode(t *testing.T) {

	m := Marker{Tick: 42, Type: TypeDocument, Payload: []byte(`{"_key":"k1","_rev":"42","a":1}`)}

	buf, err := Encode(m, CompressionNone)
	AssertNil(err)
	AssertEqual(int64(len(buf)), EncodedSize(len(m.Payload)))
	AssertEqual(len(buf)%Alignment, 0)

	decoded, n, err := Decode(buf)
	AssertNil(err)
	AssertEqual(n, int64(len(buf)))
	AssertEqual(decoded.Tick, uint64(42))
	AssertEqual(decoded.Type, TypeDocument)
	AssertEqual(string(decoded.Payload), string(m.Payload))
}

func TestEncodeDecode_Compression(t *testing.T) {

	payload := []byte(`{"_key":"k1","text":"` + string(bytes.Repeat([]byte("abcdefgh"), 200)) + `"}`)

	for _, c := range []Compression{CompressionSnappy, CompressionLZ4, CompressionZstd} {
		buf, err := Encode(Marker{Tick: 1, Type: TypeDocument, Payload: payload}, c)
		AssertNil(err)
		AssertTrue(len(buf) < len(payload))

		f, err := ParseFrame(buf)
		AssertNil(err)
		AssertEqual(f.Compression, c)

		decoded, _, err := Decode(buf)
		AssertNil(err)
		AssertEqual(string(decoded.Payload), string(payload))
	}
}

func TestEncode_RemoveIsNeverCompressed(t *testing.T) {

	payload := bytes.Repeat([]byte("x"), 512)
	buf, err := Encode(Marker{Tick: 1, Type: TypeRemove, Payload: payload}, CompressionSnappy)
	AssertNil(err)

	f, err := ParseFrame(buf)
	AssertNil(err)
	AssertEqual(f.Compression, CompressionNone)
}

func TestDecode_EndOfSegment(t *testing.T) {

	_, _, err := Decode(make([]byte, 64))
	AssertEqual(err, ErrEndOfSegment)

	_, _, err = Decode(nil)
	AssertEqual(err, ErrEndOfSegment)
}

func TestDecode_Truncated(t *testing.T) {

	buf, _ := Encode(Marker{Tick: 7, Type: TypeDocument, Payload: []byte(`{"_key":"abc"}`)}, CompressionNone)

	_, _, err := Decode(buf[:len(buf)-9])
	AssertEqual(err, ErrTruncated)

	_, _, err = Decode(buf[:10])
	AssertEqual(err, ErrTruncated)
}

func TestDecode_Checksum(t *testing.T) {

	buf, _ := Encode(Marker{Tick: 7, Type: TypeDocument, Payload: []byte(`{"_key":"abc"}`)}, CompressionNone)
	buf[HeaderSize+2] ^= 0xff

	_, _, err := Decode(buf)
	AssertEqual(err, ErrChecksum)
}

func TestDecode_Invalid(t *testing.T) {

	buf, _ := Encode(Marker{Tick: 7, Type: TypeDocument, Payload: []byte(`{}`)}, CompressionNone)
	buf[4] = 99

	_, _, err := Decode(buf)
	AssertEqual(err, ErrInvalid)
}

func TestAlign(t *testing.T) {
	AssertEqual(Align(0), int64(0))
	AssertEqual(Align(1), int64(8))
	AssertEqual(Align(8), int64(8))
	AssertEqual(Align(33), int64(40))
}

func TestPayloads(t *testing.T) {

	h, err := UnmarshalHeader(HeaderPayload{Version: FormatVersion, Fid: 9, Capacity: 4096}.Marshal())
	AssertNil(err)
	AssertEqual(h, HeaderPayload{Version: FormatVersion, Fid: 9, Capacity: 4096})

	p, err := UnmarshalPrologue(ProloguePayload{DatabaseID: 1, CollectionID: 2}.Marshal())
	AssertNil(err)
	AssertEqual(p.CollectionID, uint64(2))

	footer := FooterPayload{}
	footer.Digest[0] = 0xab
	f, err := UnmarshalFooter(footer.Marshal())
	AssertNil(err)
	AssertEqual(f, footer)

	_, err = UnmarshalHeader([]byte{1, 2})
	AssertNotNil(err)
}

func TestParseCompression(t *testing.T) {

	c, err := ParseCompression("ZSTD")
	AssertNil(err)
	AssertEqual(c, CompressionZstd)

	c, err = ParseCompression("")
	AssertNil(err)
	AssertEqual(c, CompressionNone)

	_, err = ParseCompression("brotli")
	AssertNotNil(err)
}

func TestSetTick(t *testing.T) {

	buf, err := Encode(Marker{Type: TypeRemove, Payload: []byte(`{"_key":"k1"}`)}, CompressionNone)
	AssertNil(err)

	AssertNil(SetTick(buf, 99))

	m, _, err := Decode(buf)
	AssertNil(err)
	AssertEqual(m.Tick, uint64(99))
}
