package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Artifact describes one produced release file.
type Artifact struct {
	Path   string
	SHA256 string
	Size   int64
}

// BuildArtifacts gzip-compresses each input file into artifactDir and writes
// a SHA256SUMS file covering the compressed outputs.
func BuildArtifacts(artifactDir string, inputs []string) ([]Artifact, error) {
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	var artifacts []Artifact
	for _, input := range inputs {
		art, err := compressFile(artifactDir, input)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, *art)
	}

	var sums strings.Builder
	for _, a := range artifacts {
		fmt.Fprintf(&sums, "%s  %s\n", a.SHA256, filepath.Base(a.Path))
	}
	sumsPath := filepath.Join(artifactDir, "SHA256SUMS")
	if err := os.WriteFile(sumsPath, []byte(sums.String()), 0o644); err != nil {
		return artifacts, fmt.Errorf("write checksums: %w", err)
	}
	return artifacts, nil
}

func compressFile(artifactDir, input string) (*Artifact, error) {
	in, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", input, err)
	}
	defer in.Close()

	outPath := filepath.Join(artifactDir, filepath.Base(input)+".gz")
	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", outPath, err)
	}
	defer out.Close()

	hash := sha256.New()
	gz, err := gzip.NewWriterLevel(io.MultiWriter(out, hash), gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(gz, in); err != nil {
		return nil, fmt.Errorf("compress %s: %w", input, err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finish %s: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Path:   outPath,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
		Size:   info.Size(),
	}, nil
}
