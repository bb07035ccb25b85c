package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cjeanneret/RollGo/internal/hw/camera"
)

func testFrame(seq uint64) camera.Frame {
	return camera.Frame{
		Seq:        seq,
		Session:    "s-1",
		CapturedAt: time.Date(2026, time.March, 4, 9, 15, 30, 250_000_000, time.UTC),
		Width:      4,
		Height:     2,
		Format:     camera.FormatJPEG,
		Data:       []byte{0xFF, 0xD8, 0xFF, 0xD9},
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name   string
		format camera.Format
		want   string
	}{
		{"jpeg", camera.FormatJPEG, "frame_20260304_091530.250_000012.jpg"},
		{"yuyv", camera.FormatYUYV, "frame_20260304_091530.250_000012.yuv"},
		{"unknown", camera.Format("bayer"), "frame_20260304_091530.250_000012.raw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testFrame(12)
			f.Format = tt.format
			if got := FileName(f); got != tt.want {
				t.Errorf("FileName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFiles_WriteCreatesDirectory(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "frames")
	s := NewFiles()

	path, err := s.Write(testFrame(1), dest)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Dir(path) != dest {
		t.Errorf("path %q not under %q", path, dest)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, testFrame(1).Data) {
		t.Errorf("stored bytes = %x", data)
	}

	entries, _ := os.ReadDir(dest)
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want 1 (no leftover temp file)", len(entries))
	}
}

func TestFiles_StoreRejectsEmptyFrames(t *testing.T) {
	s := NewFiles()
	dest := t.TempDir()

	none := testFrame(1)
	none.Format = camera.FormatNone
	if err := s.Store(none, dest); !errors.Is(err, ErrNothingToStore) {
		t.Errorf("Store(format none) = %v, want ErrNothingToStore", err)
	}

	empty := testFrame(2)
	empty.Data = nil
	if err := s.Store(empty, dest); !errors.Is(err, ErrNothingToStore) {
		t.Errorf("Store(no data) = %v, want ErrNothingToStore", err)
	}
}

func TestFiles_StoreRequiresDestination(t *testing.T) {
	if err := NewFiles().Store(testFrame(1), "  "); err == nil {
		t.Error("Store with blank destination should fail")
	}
}

func TestFiles_StoreIntoFileFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewFiles().Store(testFrame(1), blocker); err == nil {
		t.Error("Store under a regular file should fail")
	}
}
