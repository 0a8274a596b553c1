package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// FileRecorder is a VideoSink writing the raw Annex-B stream to disk.
// The resulting .h264 file plays with ffplay or mpv.
type FileRecorder struct {
	path string

	mu      sync.Mutex
	f       *os.File
	written int64
}

// NewFileRecorder creates <dir>/<serial>_<timestamp>.h264
func NewFileRecorder(dir, serial string) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.h264", sanitizeFileName(serial), time.Now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}

	log.Infof("[%s] Recording to %s", serial, path)
	return &FileRecorder{path: path, f: f}, nil
}

func (r *FileRecorder) WriteNAL(nal []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return os.ErrClosed
	}
	n, err := r.f.Write(nal)
	r.written += int64(n)
	return err
}

func (r *FileRecorder) Path() string {
	return r.path
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	log.Debugf("Recording %s closed (%d bytes)", r.path, r.written)
	return err
}

func sanitizeFileName(s string) string {
	out := []rune(s)
	for i, c := range out {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			out[i] = '_'
		}
	}
	return string(out)
}
