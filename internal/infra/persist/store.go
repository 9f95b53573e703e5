// Package persist provides best-effort JSON file persistence.
//
// Stores rewrite the whole file on every save and treat anything
// suspicious on load (missing file, malformed body, stale mtime) as
// "no data" rather than an error, so a bad file can never block startup.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Store persists a single JSON document at a fixed path.
type Store struct {
	path     string
	indented bool
}

// New creates a store for the given path. When indented is set, saved
// documents are human-readable.
func New(path string, indented bool) *Store {
	return &Store{path: path, indented: indented}
}

// Path returns the file path backing this store.
func (s *Store) Path() string {
	return s.path
}

// Save serializes v to the store's path, replacing the previous content.
// The rewrite is not atomic; the caller accepts the small loss window
// because Save runs after every mutation.
func (s *Store) Save(v any) error {
	var (
		data []byte
		err  error
	)
	if s.indented {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %s", s.path)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", s.path)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", s.path)
	}
	return nil
}

// Load deserializes the store's file into v. A missing file or a
// malformed/empty body leaves v untouched and returns false.
func (s *Store) Load(v any) bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			zlog.Warn().Err(err).Str("path", s.path).Msg("could not read persisted file")
		}
		return false
	}
	if len(data) == 0 {
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		zlog.Warn().Err(err).Str("path", s.path).Msg("persisted file is malformed, ignoring")
		return false
	}
	return true
}

// LoadWithin behaves like Load but discards the file when its last write
// is older than retention. A zero retention means persisted data is never
// trusted: anything not written by this process run is discarded.
func (s *Store) LoadWithin(v any, retention time.Duration) bool {
	info, err := os.Stat(s.path)
	if err != nil {
		return false
	}

	if time.Since(info.ModTime()) > retention {
		zlog.Info().Str("path", s.path).Time("last_write", info.ModTime()).
			Msg("persisted file is older than the retention window, discarding")
		return false
	}

	return s.Load(v)
}
