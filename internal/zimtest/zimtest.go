// Package zimtest builds small, valid ZIM archives for tests. Clusters are
// stored uncompressed so fixtures stay readable in a hex dump.
package zimtest

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// HarnessEnv names the environment variable that points tests at a real
// on-disk archive instead of a generated fixture.
const HarnessEnv = "ZIMRS_TEST_ZIM"

// Entry describes one directory entry of a fixture archive.
type Entry struct {
	Namespace byte
	URL       string
	Title     string
	Mime      string
	Content   []byte
	// RedirectTo, when non-empty, makes this entry a redirect to the entry
	// with that URL in the same namespace.
	RedirectTo string
}

// HarnessPath returns the override archive path, if set.
func HarnessPath() string {
	return os.Getenv(HarnessEnv)
}

// Build writes a fixture archive into t.TempDir and returns its path.
func Build(t *testing.T, entries []Entry) string {
	t.Helper()
	raw, err := BuildBytes(entries)
	if err != nil {
		t.Fatalf("build fixture archive: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fixture.zim")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write fixture archive: %v", err)
	}
	return path
}

// BuildBytes serializes the entries into a complete archive image: header,
// mime list, URL/title pointer lists, directory entries, one uncompressed
// cluster, and the trailing MD5 checksum.
func BuildBytes(entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Namespace != sorted[j].Namespace {
			return sorted[i].Namespace < sorted[j].Namespace
		}
		return sorted[i].URL < sorted[j].URL
	})

	indexByURL := make(map[string]uint32, len(sorted))
	for i, e := range sorted {
		indexByURL[string(e.Namespace)+"/"+e.URL] = uint32(i)
	}

	var mimes []string
	mimeID := make(map[string]uint16)
	for _, e := range sorted {
		if e.RedirectTo != "" {
			continue
		}
		if _, ok := mimeID[e.Mime]; !ok {
			mimeID[e.Mime] = uint16(len(mimes))
			mimes = append(mimes, e.Mime)
		}
	}

	// Mime list.
	var mimeList bytes.Buffer
	for _, m := range mimes {
		mimeList.WriteString(m)
		mimeList.WriteByte(0)
	}
	mimeList.WriteByte(0)

	// Directory entries; blob numbers follow sorted content order.
	var dirents [][]byte
	blobNum := uint32(0)
	var cluster bytes.Buffer
	var blobs [][]byte
	for _, e := range sorted {
		var d bytes.Buffer
		if e.RedirectTo != "" {
			target, ok := indexByURL[string(e.Namespace)+"/"+e.RedirectTo]
			if !ok {
				return nil, fmt.Errorf("redirect target %q not in fixture", e.RedirectTo)
			}
			binary.Write(&d, binary.LittleEndian, uint16(0xffff)) // redirect mime
			d.WriteByte(0)                                        // parameter len
			d.WriteByte(e.Namespace)
			binary.Write(&d, binary.LittleEndian, uint32(0)) // revision
			binary.Write(&d, binary.LittleEndian, target)
		} else {
			binary.Write(&d, binary.LittleEndian, mimeID[e.Mime])
			d.WriteByte(0)
			d.WriteByte(e.Namespace)
			binary.Write(&d, binary.LittleEndian, uint32(0))
			binary.Write(&d, binary.LittleEndian, uint32(0)) // cluster 0
			binary.Write(&d, binary.LittleEndian, blobNum)
			blobs = append(blobs, e.Content)
			blobNum++
		}
		d.WriteString(e.URL)
		d.WriteByte(0)
		d.WriteString(e.Title)
		d.WriteByte(0)
		dirents = append(dirents, d.Bytes())
	}

	// Uncompressed cluster: info byte, 32-bit offset table, payloads.
	cluster.WriteByte(0x01)
	tableLen := 4 * (len(blobs) + 1)
	off := uint32(tableLen)
	binary.Write(&cluster, binary.LittleEndian, off)
	for _, b := range blobs {
		off += uint32(len(b))
		binary.Write(&cluster, binary.LittleEndian, off)
	}
	for _, b := range blobs {
		cluster.Write(b)
	}

	// Layout.
	n := uint64(len(sorted))
	mimeListPos := uint64(80)
	urlPtrPos := mimeListPos + uint64(mimeList.Len())
	titlePtrPos := urlPtrPos + 8*n
	direntPos := titlePtrPos + 4*n
	direntOffsets := make([]uint64, len(dirents))
	pos := direntPos
	for i, d := range dirents {
		direntOffsets[i] = pos
		pos += uint64(len(d))
	}
	clusterPtrPos := pos
	clusterPos := clusterPtrPos + 8 // one cluster pointer
	checksumPos := clusterPos + uint64(cluster.Len())

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, MagicNumber)
	binary.Write(&out, binary.LittleEndian, uint16(6)) // major
	binary.Write(&out, binary.LittleEndian, uint16(1)) // minor
	out.Write(make([]byte, 16))                        // uuid
	binary.Write(&out, binary.LittleEndian, uint32(n))
	binary.Write(&out, binary.LittleEndian, uint32(1)) // cluster count
	binary.Write(&out, binary.LittleEndian, urlPtrPos)
	binary.Write(&out, binary.LittleEndian, titlePtrPos)
	binary.Write(&out, binary.LittleEndian, clusterPtrPos)
	binary.Write(&out, binary.LittleEndian, mimeListPos)
	binary.Write(&out, binary.LittleEndian, ^uint32(0)) // no main page
	binary.Write(&out, binary.LittleEndian, ^uint32(0)) // no layout page
	binary.Write(&out, binary.LittleEndian, checksumPos)

	out.Write(mimeList.Bytes())
	for _, o := range direntOffsets {
		binary.Write(&out, binary.LittleEndian, o)
	}
	for i := range sorted {
		binary.Write(&out, binary.LittleEndian, uint32(i))
	}
	for _, d := range dirents {
		out.Write(d)
	}
	binary.Write(&out, binary.LittleEndian, clusterPos)
	out.Write(cluster.Bytes())

	sum := md5.Sum(out.Bytes())
	out.Write(sum[:])
	return out.Bytes(), nil
}

// MagicNumber mirrors zim.MagicNumber without importing the package under
// test.
const MagicNumber uint32 = 72173914
