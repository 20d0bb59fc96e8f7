// Package diagcache writes the two small diagnostics files the Idle
// Controller republishes on every maintenance tick: restart counts and
// output tails, keyed by worker name. External tooling reads these
// without needing an RPC connection.
package diagcache

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	restartCountsFile = "restart_counts.yaml"
	outputTailsFile   = "output_tails.yaml"
)

// Writer publishes snapshots into cacheDir, one YAML document per file.
type Writer struct {
	cacheDir string
}

// New returns a Writer rooted at cacheDir, creating it if necessary.
func New(cacheDir string) (*Writer, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", cacheDir, err)
	}
	return &Writer{cacheDir: cacheDir}, nil
}

// PublishRestartCounts writes the worker_name -> restart_count mapping.
func (w *Writer) PublishRestartCounts(counts map[string]uint32) error {
	return w.writeAtomic(restartCountsFile, counts)
}

// PublishOutputTails writes the worker_name -> output_tail mapping.
func (w *Writer) PublishOutputTails(tails map[string]string) error {
	return w.writeAtomic(outputTailsFile, tails)
}

// writeAtomic marshals v to YAML and writes it via a temp file plus
// rename, so readers never observe a partially-written file.
func (w *Writer) writeAtomic(name string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	finalPath := filepath.Join(w.cacheDir, name)
	tmp, err := os.CreateTemp(w.cacheDir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file for %s: %w", name, err)
	}
	return nil
}
