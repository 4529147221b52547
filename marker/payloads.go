package marker

import (
	"encoding/binary"
	"fmt"
)

const FormatVersion = 1

type HeaderPayload struct {
	Version  uint32
	Fid      uint64
	Capacity uint64
}

func (h HeaderPayload) Marshal() []byte {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b[0:4], h.Version)
	binary.LittleEndian.PutUint64(b[4:12], h.Fid)
	binary.LittleEndian.PutUint64(b[12:20], h.Capacity)
	return b
}

func UnmarshalHeader(b []byte) (HeaderPayload, error) {
	if len(b) < 20 {
		return HeaderPayload{}, fmt.Errorf("header payload too short: %d", len(b))
	}
	return HeaderPayload{
		Version:  binary.LittleEndian.Uint32(b[0:4]),
		Fid:      binary.LittleEndian.Uint64(b[4:12]),
		Capacity: binary.LittleEndian.Uint64(b[12:20]),
	}, nil
}

type ProloguePayload struct {
	DatabaseID   uint64
	CollectionID uint64
}

func (p ProloguePayload) Marshal() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], p.DatabaseID)
	binary.LittleEndian.PutUint64(b[8:16], p.CollectionID)
	return b
}

func UnmarshalPrologue(b []byte) (ProloguePayload, error) {
	if len(b) < 16 {
		return ProloguePayload{}, fmt.Errorf("prologue payload too short: %d", len(b))
	}
	return ProloguePayload{
		DatabaseID:   binary.LittleEndian.Uint64(b[0:8]),
		CollectionID: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// FooterPayload carries the blake3 digest of every byte preceding the footer.
type FooterPayload struct {
	Digest [32]byte
}

func (f FooterPayload) Marshal() []byte {
	b := make([]byte, 32)
	copy(b, f.Digest[:])
	return b
}

func UnmarshalFooter(b []byte) (FooterPayload, error) {
	f := FooterPayload{}
	if len(b) < 32 {
		return f, fmt.Errorf("footer payload too short: %d", len(b))
	}
	copy(f.Digest[:], b)
	return f, nil
}

// FooterSize is the space a datafile keeps free for its footer.
var FooterSize = EncodedSize(32)
