package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	acceptedDir = "notices"
	failedDir   = "failed"
	ext         = ".zst"
)

// encoder and decoder are shared; both are safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// Spool writes zstd-compressed payloads under dir/notices (accepted, keyed
// by notice identifier) and dir/failed (rejected, keyed by queue entry).
type Spool struct {
	dir string
}

// NewSpool creates the spool directories under dir.
func NewSpool(dir string) (*Spool, error) {
	for _, sub := range []string{acceptedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create spool dir: %w", err)
		}
	}
	return &Spool{dir: dir}, nil
}

// Accepted stores the payload of a parsed notice. An existing file for the
// same identifier is replaced.
func (s *Spool) Accepted(_ context.Context, noticeID string, payload []byte) error {
	return s.write(acceptedDir, noticeID, payload)
}

// Failed stores a payload that could not be processed.
func (s *Spool) Failed(_ context.Context, entryID string, payload []byte) error {
	return s.write(failedDir, entryID, payload)
}

// Read returns the decompressed payload stored for a notice identifier.
func (s *Spool) Read(noticeID string) ([]byte, error) {
	return s.read(acceptedDir, noticeID)
}

// ReadFailed returns the decompressed payload of a failed entry.
func (s *Spool) ReadFailed(entryID string) ([]byte, error) {
	return s.read(failedDir, entryID)
}

func (s *Spool) write(sub, key string, payload []byte) error {
	path := s.path(sub, key)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".spool-*")
	if err != nil {
		return fmt.Errorf("spool %s: %w", key, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := tmp.Write(encoder.EncodeAll(payload, nil)); err != nil {
		tmp.Close()
		return fmt.Errorf("spool %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("spool %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("spool %s: %w", key, err)
	}
	return nil
}

func (s *Spool) read(sub, key string) ([]byte, error) {
	b, err := os.ReadFile(s.path(sub, key))
	if err != nil {
		return nil, err
	}
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress %s: %w", key, err)
	}
	return out, nil
}

// path maps an identifier to a flat file name. Identifiers contain '/',
// '#' and ':' which are replaced so every payload lands directly in sub.
func (s *Spool) path(sub, key string) string {
	return filepath.Join(s.dir, sub, fileName(key)+ext)
}

var nameReplacer = strings.NewReplacer(
	"ivo://", "",
	"/", "_",
	"#", "_",
	":", "-",
	"\\", "_",
	"..", "_",
)

func fileName(key string) string {
	name := nameReplacer.Replace(key)
	if name == "" || name == "." {
		name = "_"
	}
	return name
}
