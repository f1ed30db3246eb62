// Package export writes run artifacts as JSON files for later inspection.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names.
const (
	FileEmails         = "emails.json"
	FileAccountUsers   = "users.json"
	FilePermittedUsers = "permitted.json"
	FileUnpermitted    = "unpermitted.json"
	FileDeletionReport = "deletion-report.json"
)

// Writer stores artifacts in one directory.
type Writer struct {
	dir string
}

// NewWriter creates the directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteJSON marshals v into name, replacing any previous file atomically.
// It returns the written path.
func (w *Writer) WriteJSON(name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(w.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	path := filepath.Join(w.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return path, nil
}

// ReadJSON decodes name into v.
func (w *Writer) ReadJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
