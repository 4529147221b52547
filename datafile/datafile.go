// Package datafile implements the fixed capacity, append-only segments that
// hold the markers of a collection.
//
// A datafile is pre-sized to its capacity, so the unwritten tail reads as
// zeros and a zero size marker header ends iteration. Sealing appends a footer
// carrying a blake3 digest of the preceding bytes, trims the file to its used
// size and makes it read-only.
package datafile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/zeebo/blake3"

	"github.com/fulldump/segmentdb/dberr"
	"github.com/fulldump/segmentdb/marker"
)

type Datafile struct {
	ID       uint64
	Capacity int64

	file *os.File

	mutex        sync.RWMutex
	path         string
	written      int64
	synced       int64
	inflight     map[int64]struct{}
	sealed       bool
	footerOffset int64

	headerTick   uint64
	prologueTick uint64
	footerTick   uint64

	tickMin uint64
	tickMax uint64
	dataMin uint64
	dataMax uint64
}

type CreateOptions struct {
	Fid      uint64
	Capacity int64
	Prologue marker.ProloguePayload

	// Ticks stamped on the header and prologue markers.
	HeaderTick   uint64
	PrologueTick uint64
}

// Entry is a marker read back from a datafile.
type Entry struct {
	Offset int64
	Size   int64
	marker.Marker
}

// Info is a point in time copy of the datafile bookkeeping.
type Info struct {
	ID       uint64 `json:"id"`
	Path     string `json:"path"`
	Capacity int64  `json:"capacity"`
	Size     int64  `json:"size"`
	Sealed   bool   `json:"sealed"`
	TickMin  uint64 `json:"tick_min"`
	TickMax  uint64 `json:"tick_max"`
	DataMin  uint64 `json:"data_min"`
	DataMax  uint64 `json:"data_max"`
}

func ioError(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return dberr.Wrap(dberr.KindFilesystemFull, err, "%s", op)
	}
	if errors.Is(err, syscall.ENOMEM) {
		return dberr.Wrap(dberr.KindOutOfMemory, err, "%s", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Create makes a new datafile at path with its header and prologue markers.
func Create(path string, o CreateOptions) (*Datafile, error) {

	minimum := marker.EncodedSize(20) + marker.EncodedSize(16) + marker.FooterSize
	if o.Capacity < minimum {
		return nil, dberr.New(dberr.KindBadParameter, "datafile capacity %d below minimum %d", o.Capacity, minimum)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, ioError("create datafile", err)
	}

	err = file.Truncate(o.Capacity)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, ioError("allocate datafile", err)
	}

	d := &Datafile{
		ID:       o.Fid,
		Capacity: o.Capacity,
		file:     file,
		path:     path,
	}

	header := marker.HeaderPayload{Version: marker.FormatVersion, Fid: o.Fid, Capacity: uint64(o.Capacity)}
	for _, m := range []marker.Marker{
		{Tick: o.HeaderTick, Type: marker.TypeHeader, Payload: header.Marshal()},
		{Tick: o.PrologueTick, Type: marker.TypePrologue, Payload: o.Prologue.Marshal()},
	} {
		err = d.append(m)
		if err != nil {
			file.Close()
			os.Remove(path)
			return nil, err
		}
	}
	d.headerTick = o.HeaderTick
	d.prologueTick = o.PrologueTick

	err = d.Sync()
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return d, nil
}

func (d *Datafile) append(m marker.Marker) error {
	buf, err := marker.Encode(m, marker.CompressionNone)
	if err != nil {
		return err
	}
	offset, err := d.Reserve(int64(len(buf)))
	if err != nil {
		return err
	}
	return d.WriteMarker(offset, buf, m.Tick, m.Type)
}

// Reserve claims an aligned region at the write cursor. Room for the footer
// is always kept free.
func (d *Datafile) Reserve(size int64) (int64, error) {
	aligned := marker.Align(size)

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.sealed {
		return 0, dberr.New(dberr.KindDatafileSealed, "datafile %d", d.ID)
	}
	if d.written+aligned+marker.FooterSize > d.Capacity {
		return 0, dberr.New(dberr.KindDatafileFull, "datafile %d: %d bytes requested, %d free", d.ID, aligned, d.Capacity-d.written-marker.FooterSize)
	}

	offset := d.written
	d.written += aligned
	if d.inflight == nil {
		d.inflight = map[int64]struct{}{}
	}
	d.inflight[offset] = struct{}{}
	return offset, nil
}

// settle marks a reserved region as written or abandoned. Callers hold the
// mutex.
func (d *Datafile) settle(offset int64) {
	delete(d.inflight, offset)
}

// durable returns the end of the prefix whose reserved regions have all been
// settled. Callers hold the mutex.
func (d *Datafile) durable() int64 {
	end := d.written
	for offset := range d.inflight {
		if offset < end {
			end = offset
		}
	}
	return end
}

// WriteMarker stores an encoded marker into a region obtained from Reserve.
func (d *Datafile) WriteMarker(offset int64, buf []byte, tick uint64, t marker.Type) error {
	_, err := d.file.WriteAt(buf, offset)

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.settle(offset)
	if err != nil {
		return ioError("write marker", err)
	}

	if d.tickMin == 0 || tick < d.tickMin {
		d.tickMin = tick
	}
	if tick > d.tickMax {
		d.tickMax = tick
	}
	if t.IsData() {
		if d.dataMin == 0 || tick < d.dataMin {
			d.dataMin = tick
		}
		if tick > d.dataMax {
			d.dataMax = tick
		}
	}
	return nil
}

// Abandon fills a reserved region whose write failed with a blank marker, so
// iteration can step over it.
func (d *Datafile) Abandon(offset, size int64) error {
	defer func() {
		d.mutex.Lock()
		d.settle(offset)
		d.mutex.Unlock()
	}()

	aligned := marker.Align(size)
	if aligned < marker.HeaderSize {
		return nil
	}
	buf, err := marker.Encode(marker.Marker{Type: marker.TypeBlank, Payload: make([]byte, aligned-marker.HeaderSize)}, marker.CompressionNone)
	if err != nil {
		return err
	}
	_, err = d.file.WriteAt(buf, offset)
	if err != nil {
		return ioError("abandon region", err)
	}
	return nil
}

// Sync flushes the written but not yet synced range. Regions reserved but
// not yet written stay outside the synced range.
func (d *Datafile) Sync() error {
	d.mutex.RLock()
	written, synced := d.durable(), d.synced
	d.mutex.RUnlock()

	if synced >= written {
		return nil
	}

	err := d.file.Sync()
	if err != nil {
		return ioError("sync datafile", err)
	}

	d.mutex.Lock()
	if written > d.synced {
		d.synced = written
	}
	d.mutex.Unlock()
	return nil
}

// Seal writes the footer, trims the file to its used size and turns the
// datafile read-only.
func (d *Datafile) Seal(tick uint64) error {

	d.mutex.RLock()
	sealed, written := d.sealed, d.written
	d.mutex.RUnlock()
	if sealed {
		return dberr.New(dberr.KindDatafileSealed, "datafile %d", d.ID)
	}

	digest, err := d.digest(written)
	if err != nil {
		return err
	}

	buf, err := marker.Encode(marker.Marker{
		Tick:    tick,
		Type:    marker.TypeFooter,
		Payload: marker.FooterPayload{Digest: digest}.Marshal(),
	}, marker.CompressionNone)
	if err != nil {
		return err
	}

	_, err = d.file.WriteAt(buf, written)
	if err != nil {
		return ioError("write footer", err)
	}

	end := written + int64(len(buf))
	err = d.file.Truncate(end)
	if err != nil {
		return ioError("trim datafile", err)
	}
	err = d.file.Sync()
	if err != nil {
		return ioError("sync datafile", err)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.footerOffset = written
	d.footerTick = tick
	d.written = end
	d.synced = end
	d.sealed = true
	if tick > d.tickMax {
		d.tickMax = tick
	}
	return nil
}

func (d *Datafile) digest(length int64) ([32]byte, error) {
	var digest [32]byte
	h := blake3.New()
	_, err := io.Copy(h, io.NewSectionReader(d.file, 0, length))
	if err != nil {
		return digest, ioError("digest datafile", err)
	}
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// Verify recomputes the footer digest of a sealed datafile.
func (d *Datafile) Verify() error {
	d.mutex.RLock()
	sealed, footerOffset := d.sealed, d.footerOffset
	d.mutex.RUnlock()

	if !sealed {
		return dberr.New(dberr.KindBadParameter, "datafile %d is not sealed", d.ID)
	}

	e, err := d.ReadMarker(footerOffset)
	if err != nil {
		return err
	}
	footer, err := marker.UnmarshalFooter(e.Payload)
	if err != nil {
		return dberr.Wrap(dberr.KindCorruptDatafile, err, "datafile %d", d.ID)
	}

	digest, err := d.digest(footerOffset)
	if err != nil {
		return err
	}
	if !bytes.Equal(digest[:], footer.Digest[:]) {
		return dberr.New(dberr.KindCorruptDatafile, "datafile %d: digest mismatch", d.ID)
	}
	return nil
}

// ReadMarker reads the marker stored at offset. It is safe to call
// concurrently with appends as long as offset lies in the written region.
func (d *Datafile) ReadMarker(offset int64) (Entry, error) {
	header := make([]byte, marker.HeaderSize)
	n, err := d.file.ReadAt(header, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		return Entry{}, ioError("read marker", err)
	}

	f, err := marker.ParseFrame(header[:n])
	if errors.Is(err, marker.ErrEndOfSegment) {
		return Entry{}, err
	}
	if err != nil {
		return Entry{}, dberr.Wrap(dberr.KindCorruptDatafile, err, "datafile %d offset %d", d.ID, offset)
	}

	buf := make([]byte, f.Size)
	_, err = d.file.ReadAt(buf, offset)
	if err != nil {
		return Entry{}, dberr.Wrap(dberr.KindCorruptDatafile, err, "datafile %d offset %d", d.ID, offset)
	}

	m, size, err := marker.Decode(buf)
	if err != nil {
		return Entry{}, dberr.Wrap(dberr.KindCorruptDatafile, err, "datafile %d offset %d", d.ID, offset)
	}

	return Entry{Offset: offset, Size: size, Marker: m}, nil
}

// Iterate visits every marker in file order, including header, prologue and
// footer. It stops at the zero size sentinel or the write cursor.
func (d *Datafile) Iterate(fn func(e Entry) error) error {
	d.mutex.RLock()
	limit := d.written
	d.mutex.RUnlock()

	for offset := int64(0); offset < limit; {
		e, err := d.ReadMarker(offset)
		if errors.Is(err, marker.ErrEndOfSegment) {
			return nil
		}
		if err != nil {
			return err
		}
		err = fn(e)
		if err != nil {
			return err
		}
		if e.Type == marker.TypeFooter {
			return nil
		}
		offset += e.Size
	}
	return nil
}

func (d *Datafile) Rename(path string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	err := os.Rename(d.path, path)
	if err != nil {
		return ioError("rename datafile", err)
	}
	d.path = path
	return nil
}

func (d *Datafile) Close() error {
	return d.file.Close()
}

// Remove closes the datafile and deletes it from disk.
func (d *Datafile) Remove() error {
	d.file.Close()
	err := os.Remove(d.Path())
	if err != nil && !os.IsNotExist(err) {
		return ioError("remove datafile", err)
	}
	return nil
}

func (d *Datafile) Path() string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.path
}

func (d *Datafile) Sealed() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.sealed
}

// Size is the number of bytes used so far.
func (d *Datafile) Size() int64 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.written
}

// HeaderTicks returns the ticks of the header, prologue and footer markers.
// The footer tick is zero while the datafile is a journal.
func (d *Datafile) HeaderTicks() (header, prologue, footer uint64) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.headerTick, d.prologueTick, d.footerTick
}

func (d *Datafile) Info() Info {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return Info{
		ID:       d.ID,
		Path:     d.path,
		Capacity: d.Capacity,
		Size:     d.written,
		Sealed:   d.sealed,
		TickMin:  d.tickMin,
		TickMax:  d.tickMax,
		DataMin:  d.dataMin,
		DataMax:  d.dataMax,
	}
}
