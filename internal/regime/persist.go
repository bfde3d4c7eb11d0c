package regime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names inside a versioned model directory. Other tooling
// (model registries, rollback scripts) relies on these names.
const (
	modelFile      = "model.json"
	metadataFile   = "metadata.json"
	metricsFile    = "metrics.json"
	scalerFile     = "scaler.json"
	thresholdsFile = "thresholds.json"
)

// shortHash returns the first 8 hex characters of the SHA-256 of v's JSON
// form. Used to make model identifiers configuration-sensitive.
func shortHash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "00000000"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:8]
}

// writeArtifact persists one JSON document per file into dir. Files are
// staged in a sibling temp directory and renamed into place only once all
// writes succeed, so a crashed save leaves no directory that Load could
// mistake for a complete artifact.
func writeArtifact(dir string, files map[string]any) error {
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: artifact directory %s already exists", ErrModelSave, dir)
	}

	staging := dir + ".tmp"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("%w: clearing staging dir: %v", ErrModelSave, err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("%w: creating staging dir: %v", ErrModelSave, err)
	}

	for name, doc := range files {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("%w: marshaling %s: %v", ErrModelSave, name, err)
		}
		if err := os.WriteFile(filepath.Join(staging, name), data, 0o644); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("%w: writing %s: %v", ErrModelSave, name, err)
		}
	}

	if err := os.Rename(staging, dir); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("%w: finalizing %s: %v", ErrModelSave, dir, err)
	}
	return nil
}

// readArtifactFile loads one JSON document from a saved artifact
// directory. A missing or unreadable file fails the whole load.
func readArtifactFile(dir, name string, out any) error {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrModelLoad, path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrModelLoad, path, err)
	}
	return nil
}
