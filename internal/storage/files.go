// Package storage persists captured frames.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/camera"
)

// ErrNothingToStore is returned for frames that carry no image bytes,
// such as the ones produced by a DSLR writing to its own card.
var ErrNothingToStore = errors.New("storage: frame has no image data")

// Files writes every frame to its own file under the destination directory.
// The directory is created on first use.
type Files struct {
	perm os.FileMode
}

// NewFiles returns a file store writing files with mode 0644.
func NewFiles() *Files {
	return &Files{perm: 0o644}
}

// FileName returns the name a frame is stored under:
// frame_<YYYYMMDD_HHMMSS.mmm>_<seq>.<ext>.
func FileName(f camera.Frame) string {
	return fmt.Sprintf("frame_%s_%06d.%s",
		f.CapturedAt.Format("20060102_150405.000"), f.Seq, f.Format.Extension())
}

// Store implements rolling.Persister.
func (s *Files) Store(frame camera.Frame, dest string) error {
	_, err := s.Write(frame, dest)
	return err
}

// Write stores frame under dest and returns the path of the written file.
// The file appears atomically: it is written under a temporary name first.
func (s *Files) Write(frame camera.Frame, dest string) (string, error) {
	if frame.Format == camera.FormatNone || len(frame.Data) == 0 {
		return "", ErrNothingToStore
	}
	if strings.TrimSpace(dest) == "" {
		return "", errors.New("storage: destination directory is required")
	}
	dir := filepath.Clean(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName(frame))
	tmp := path + ".part"
	if err := os.WriteFile(tmp, frame.Data, s.perm); err != nil {
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	debug.Verbose("Frame #%d written to %s (%d bytes)", frame.Seq, path, len(frame.Data))
	return path, nil
}
