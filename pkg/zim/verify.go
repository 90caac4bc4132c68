package zim

import (
	"encoding/binary"
	"fmt"
	"os"
)

// VerifyOptions controls the pre-flight archive check.
type VerifyOptions struct {
	// Checksum enables the full-file MD5 verification.
	Checksum bool
	// TailWindowBytes is how much of the file tail to inspect for the
	// zeroed-tail heuristic. Values below 64 are raised to 64.
	TailWindowBytes int
}

// VerifyReport summarizes a verification pass.
type VerifyReport struct {
	Path          string
	SizeBytes     int64
	MagicOK       bool
	TailAllZero   bool
	TailZeroRatio float64
	EntryCount    uint32
	ClusterCount  uint32
	ChecksumOK    *bool // nil when the checksum was skipped
}

// Verify runs the pre-flight checks on an archive: header sanity, declared
// size versus file size, the zeroed-tail heuristic for interrupted
// pre-allocated downloads, and optionally the internal checksum. Any failed
// check returns an error wrapping ErrCorrupt.
func Verify(path string, opts VerifyOptions) (*VerifyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zim %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat zim %s: %w", path, err)
	}

	report := &VerifyReport{Path: path, SizeBytes: st.Size()}
	if st.Size() < headerSize {
		return report, fmt.Errorf("%w: file is too small to contain a header", ErrCorrupt)
	}

	var magicBuf [4]byte
	if _, err := f.ReadAt(magicBuf[:], 0); err != nil {
		return report, fmt.Errorf("read magic: %w", err)
	}
	report.MagicOK = binary.LittleEndian.Uint32(magicBuf[:]) == MagicNumber
	if !report.MagicOK {
		return report, fmt.Errorf("%w: bad magic (not a ZIM file)", ErrCorrupt)
	}

	window := opts.TailWindowBytes
	if window < 64 {
		window = 64
	}
	if int64(window) > st.Size() {
		window = int(st.Size())
	}
	tail := make([]byte, window)
	if _, err := f.ReadAt(tail, st.Size()-int64(window)); err != nil {
		return report, fmt.Errorf("read tail window: %w", err)
	}
	zeros := 0
	for _, b := range tail {
		if b == 0 {
			zeros++
		}
	}
	report.TailZeroRatio = float64(zeros) / float64(len(tail))
	report.TailAllZero = zeros == len(tail)
	if report.TailAllZero {
		return report, fmt.Errorf("%w: last %d bytes are all zero, likely an interrupted download", ErrCorrupt, len(tail))
	}

	arc, err := Open(path)
	if err != nil {
		return report, err
	}
	defer arc.Close()

	report.EntryCount = arc.EntryCount()
	report.ClusterCount = arc.Header().ClusterCount

	if opts.Checksum {
		ok, err := arc.ChecksumOK()
		if err != nil {
			return report, err
		}
		report.ChecksumOK = &ok
		if !ok {
			return report, fmt.Errorf("%w: internal checksum mismatch", ErrCorrupt)
		}
	}
	return report, nil
}
