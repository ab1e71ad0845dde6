package binding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// servingConfig is the on-disk shape of the serving component's binding
// configuration. The serving container mounts this file and reads it on
// startup, so rebinding is "write the file, restart the component".
type servingConfig struct {
	IndexID   string    `yaml:"index_id"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// File is a Store backed by a YAML config file shared with the serving
// component. Writes go through a temp file plus rename so a crashed write
// never leaves a half-written config.
type File struct {
	Path string
}

// NewFile creates a file-backed binding store at path.
func NewFile(path string) *File { return &File{Path: path} }

// Get implements Store. A missing file means nothing is bound yet.
func (f *File) Get(ctx context.Context) (string, error) {
	raw, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read serving config %s: %w", f.Path, err)
	}

	var cfg servingConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return "", fmt.Errorf("failed to parse serving config %s: %w", f.Path, err)
	}
	return cfg.IndexID, nil
}

// Set implements Store.
func (f *File) Set(ctx context.Context, artifactID string) error {
	raw, err := yaml.Marshal(servingConfig{IndexID: artifactID, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode serving config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create serving config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".serving-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to stage serving config write: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write serving config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize serving config: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to install serving config %s: %w", f.Path, err)
	}
	return nil
}
