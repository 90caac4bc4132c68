// Package zim reads ZIM container files: header, directory entries and
// compressed clusters. The archive handle is safe for concurrent readers.
package zim

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// MagicNumber identifies a ZIM file (little-endian at offset 0).
const MagicNumber uint32 = 72173914

const (
	headerSize = 80

	mimeRedirect   uint16 = 0xffff
	mimeLinkTarget uint16 = 0xfffe
	mimeDeleted    uint16 = 0xfffd
)

// Cluster compression codes (low nibble of the cluster info byte).
const (
	compressionDefault uint8 = 0
	compressionNone    uint8 = 1
	compressionZlib    uint8 = 2
	compressionBzip2   uint8 = 3
	compressionXZ      uint8 = 4
	compressionZstd    uint8 = 5
)

// ErrCorrupt marks structural damage in the archive. Callers map it to the
// archive-verification exit code.
var ErrCorrupt = errors.New("zim: corrupt archive")

// Header is the fixed 80-byte ZIM file header.
type Header struct {
	Magic         uint32
	MajorVersion  uint16
	MinorVersion  uint16
	UUID          [16]byte
	EntryCount    uint32
	ClusterCount  uint32
	URLPtrPos     uint64
	TitlePtrPos   uint64
	ClusterPtrPos uint64
	MimeListPos   uint64
	MainPage      uint32
	LayoutPage    uint32
	ChecksumPos   uint64
}

// Archive is an open ZIM file. All read methods are safe for concurrent use:
// random access goes through pread and the cluster cache is mutex-guarded.
type Archive struct {
	f      *os.File
	size   int64
	header Header

	mimeTypes   []string
	urlPtrs     []uint64
	clusterPtrs []uint64

	mu            sync.Mutex
	cachedCluster uint32
	cachedBlobs   [][]byte
	hasCached     bool
}

// Open opens and indexes an archive. The directory pointer lists are loaded
// eagerly; entries and clusters are read on demand.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zim %s: %w", path, err)
	}

	arc, err := newArchive(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return arc, nil
}

func newArchive(f *os.File) (*Archive, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat zim: %w", err)
	}

	arc := &Archive{f: f, size: st.Size()}
	if err := arc.readHeader(); err != nil {
		return nil, err
	}
	if err := arc.readMimeList(); err != nil {
		return nil, err
	}
	if err := arc.readPointerLists(); err != nil {
		return nil, err
	}
	return arc, nil
}

func (a *Archive) readHeader() error {
	if a.size < headerSize {
		return fmt.Errorf("%w: file is %d bytes, smaller than the %d byte header", ErrCorrupt, a.size, headerSize)
	}

	buf := make([]byte, headerSize)
	if _, err := a.f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	h := &a.header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if h.Magic != MagicNumber {
		return fmt.Errorf("%w: bad magic %#x, want %#x", ErrCorrupt, h.Magic, MagicNumber)
	}
	h.MajorVersion = binary.LittleEndian.Uint16(buf[4:6])
	h.MinorVersion = binary.LittleEndian.Uint16(buf[6:8])
	copy(h.UUID[:], buf[8:24])
	h.EntryCount = binary.LittleEndian.Uint32(buf[24:28])
	h.ClusterCount = binary.LittleEndian.Uint32(buf[28:32])
	h.URLPtrPos = binary.LittleEndian.Uint64(buf[32:40])
	h.TitlePtrPos = binary.LittleEndian.Uint64(buf[40:48])
	h.ClusterPtrPos = binary.LittleEndian.Uint64(buf[48:56])
	h.MimeListPos = binary.LittleEndian.Uint64(buf[56:64])
	h.MainPage = binary.LittleEndian.Uint32(buf[64:68])
	h.LayoutPage = binary.LittleEndian.Uint32(buf[68:72])
	h.ChecksumPos = binary.LittleEndian.Uint64(buf[72:80])

	if h.ChecksumPos+16 > uint64(a.size) {
		return fmt.Errorf("%w: checksum position %d exceeds file size %d", ErrCorrupt, h.ChecksumPos, a.size)
	}
	return nil
}

func (a *Archive) readMimeList() error {
	r := bufio.NewReader(io.NewSectionReader(a.f, int64(a.header.MimeListPos), a.size-int64(a.header.MimeListPos)))
	for {
		s, err := r.ReadString(0)
		if err != nil {
			return fmt.Errorf("%w: unterminated mime list", ErrCorrupt)
		}
		s = s[:len(s)-1]
		if s == "" {
			return nil
		}
		a.mimeTypes = append(a.mimeTypes, s)
	}
}

func (a *Archive) readPointerLists() error {
	h := a.header

	a.urlPtrs = make([]uint64, h.EntryCount)
	buf := make([]byte, 8*int(h.EntryCount))
	if _, err := a.f.ReadAt(buf, int64(h.URLPtrPos)); err != nil {
		return fmt.Errorf("%w: url pointer list: %v", ErrCorrupt, err)
	}
	for i := range a.urlPtrs {
		a.urlPtrs[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}

	a.clusterPtrs = make([]uint64, h.ClusterCount)
	buf = make([]byte, 8*int(h.ClusterCount))
	if _, err := a.f.ReadAt(buf, int64(h.ClusterPtrPos)); err != nil {
		return fmt.Errorf("%w: cluster pointer list: %v", ErrCorrupt, err)
	}
	for i := range a.clusterPtrs {
		a.clusterPtrs[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return nil
}

// Close releases the underlying file.
func (a *Archive) Close() error {
	return a.f.Close()
}

// Header returns the parsed file header.
func (a *Archive) Header() Header {
	return a.header
}

// EntryCount returns the number of directory entries.
func (a *Archive) EntryCount() uint32 {
	return a.header.EntryCount
}

// EntryAt decodes the directory entry at the given URL-pointer index.
func (a *Archive) EntryAt(index uint32) (*Entry, error) {
	if index >= a.header.EntryCount {
		return nil, fmt.Errorf("zim: entry index %d out of range (%d entries)", index, a.header.EntryCount)
	}

	off := int64(a.urlPtrs[index])
	if off <= 0 || off >= a.size {
		return nil, fmt.Errorf("%w: entry %d points at offset %d", ErrCorrupt, index, off)
	}

	r := bufio.NewReader(io.NewSectionReader(a.f, off, a.size-off))

	var fixed [8]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: entry %d header: %v", ErrCorrupt, index, err)
	}

	e := &Entry{
		arc:       a,
		index:     index,
		mimeID:    binary.LittleEndian.Uint16(fixed[0:2]),
		namespace: fixed[3],
		revision:  binary.LittleEndian.Uint32(fixed[4:8]),
	}

	if e.mimeID == mimeRedirect {
		var target [4]byte
		if _, err := io.ReadFull(r, target[:]); err != nil {
			return nil, fmt.Errorf("%w: entry %d redirect target: %v", ErrCorrupt, index, err)
		}
		e.redirectIndex = binary.LittleEndian.Uint32(target[0:4])
	} else if e.mimeID != mimeLinkTarget && e.mimeID != mimeDeleted {
		var loc [8]byte
		if _, err := io.ReadFull(r, loc[:]); err != nil {
			return nil, fmt.Errorf("%w: entry %d blob location: %v", ErrCorrupt, index, err)
		}
		e.clusterNum = binary.LittleEndian.Uint32(loc[0:4])
		e.blobNum = binary.LittleEndian.Uint32(loc[4:8])
	}

	url, err := r.ReadString(0)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %d url: %v", ErrCorrupt, index, err)
	}
	title, err := r.ReadString(0)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %d title: %v", ErrCorrupt, index, err)
	}
	e.url = url[:len(url)-1]
	e.title = title[:len(title)-1]
	return e, nil
}

// ChecksumOK recomputes the archive MD5 and compares it against the trailing
// 16 checksum bytes.
func (a *Archive) ChecksumOK() (bool, error) {
	h := md5.New()
	if _, err := io.Copy(h, io.NewSectionReader(a.f, 0, int64(a.header.ChecksumPos))); err != nil {
		return false, fmt.Errorf("hash archive: %w", err)
	}

	want := make([]byte, 16)
	if _, err := a.f.ReadAt(want, int64(a.header.ChecksumPos)); err != nil {
		return false, fmt.Errorf("read stored checksum: %w", err)
	}
	return bytes.Equal(h.Sum(nil), want), nil
}

// blobAt returns one blob from a cluster, decompressing the cluster if it is
// not the cached one. A single-slot cache is enough for the pipeline's mostly
// sequential access pattern.
func (a *Archive) blobAt(cluster, blob uint32) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.hasCached || a.cachedCluster != cluster {
		blobs, err := a.readCluster(cluster)
		if err != nil {
			return nil, err
		}
		a.cachedCluster = cluster
		a.cachedBlobs = blobs
		a.hasCached = true
	}

	if int(blob) >= len(a.cachedBlobs) {
		return nil, fmt.Errorf("%w: blob %d out of range in cluster %d (%d blobs)", ErrCorrupt, blob, cluster, len(a.cachedBlobs))
	}
	return a.cachedBlobs[blob], nil
}

func (a *Archive) readCluster(n uint32) ([][]byte, error) {
	if n >= a.header.ClusterCount {
		return nil, fmt.Errorf("%w: cluster %d out of range (%d clusters)", ErrCorrupt, n, a.header.ClusterCount)
	}

	start := int64(a.clusterPtrs[n])
	end := int64(a.header.ChecksumPos)
	if int(n+1) < len(a.clusterPtrs) {
		end = int64(a.clusterPtrs[n+1])
	}
	if start <= 0 || end <= start || end > a.size {
		return nil, fmt.Errorf("%w: cluster %d spans [%d,%d)", ErrCorrupt, n, start, end)
	}

	raw := make([]byte, end-start)
	if _, err := a.f.ReadAt(raw, start); err != nil {
		return nil, fmt.Errorf("%w: cluster %d: %v", ErrCorrupt, n, err)
	}

	info := raw[0]
	extended := info&0x10 != 0
	payload, err := decompressCluster(info&0x0f, raw[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: cluster %d: %v", ErrCorrupt, n, err)
	}
	return splitBlobs(payload, extended)
}

func decompressCluster(compression uint8, body []byte) ([]byte, error) {
	switch compression {
	case compressionDefault, compressionNone:
		return body, nil
	case compressionXZ:
		r, err := xz.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("xz cluster: %w", err)
		}
		return io.ReadAll(r)
	case compressionZstd:
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zstd cluster: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case compressionZlib, compressionBzip2:
		return nil, fmt.Errorf("obsolete cluster compression %d", compression)
	default:
		return nil, fmt.Errorf("unknown cluster compression %d", compression)
	}
}

// splitBlobs decodes the blob offset table at the head of a decompressed
// cluster. Offsets are relative to the start of the table itself.
func splitBlobs(payload []byte, extended bool) ([][]byte, error) {
	offSize := 4
	if extended {
		offSize = 8
	}
	if len(payload) < offSize {
		return nil, fmt.Errorf("cluster payload too short for offset table")
	}

	readOff := func(i int) uint64 {
		if extended {
			return binary.LittleEndian.Uint64(payload[i*8:])
		}
		return uint64(binary.LittleEndian.Uint32(payload[i*4:]))
	}

	first := readOff(0)
	if first%uint64(offSize) != 0 || first < uint64(offSize) {
		return nil, fmt.Errorf("bad first blob offset %d", first)
	}
	count := int(first)/offSize - 1
	if len(payload) < int(first) {
		return nil, fmt.Errorf("offset table overruns cluster payload")
	}

	blobs := make([][]byte, count)
	prev := first
	for i := 1; i <= count; i++ {
		next := readOff(i)
		if next < prev || next > uint64(len(payload)) {
			return nil, fmt.Errorf("blob %d spans [%d,%d) outside payload of %d bytes", i-1, prev, next, len(payload))
		}
		blobs[i-1] = payload[prev:next]
		prev = next
	}
	return blobs, nil
}
