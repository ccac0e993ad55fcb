// Package trace writes raw wire frames to a JSONL file for debugging
// backend protocol issues. It is disabled unless Enable is called; the
// streaming engine itself never logs.
package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	mu   sync.Mutex
	file *os.File
)

// Enable opens (or creates) the trace file at path. Parent directories are
// created as needed.
func Enable(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if file != nil {
		file.Close()
	}
	file = f
	return nil
}

// Enabled reports whether tracing is active.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return file != nil
}

// Frame records one raw wire frame or lifecycle note. No-op when disabled.
func Frame(provider, kind string, payload any) {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	entry := map[string]any{
		"ts":       time.Now().Format(time.RFC3339Nano),
		"provider": provider,
		"kind":     kind,
		"payload":  payload,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	file.Write(append(raw, '\n'))
}

// Close flushes and closes the trace file.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}
