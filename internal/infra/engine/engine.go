// Package engine provides filesystem-backed stand-ins for the game-engine
// collaborators, so the service runs headless: charts are "in the catalog"
// once their bundle exists on disk, toasts and display updates go to the
// log, and playback looks idle.
package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/TheBlackParrot/SpinRequests/internal/domain/queue"
)

// ErrNotInCatalog is returned by catalog lookups while a chart's bundle
// has not appeared on disk yet.
var ErrNotInCatalog = errors.New("chart not visible in catalog")

// FileCatalog resolves charts by scanning the customs directory.
type FileCatalog struct {
	customsDir string
}

// NewFileCatalog creates a catalog over customsDir.
func NewFileCatalog(customsDir string) *FileCatalog {
	return &FileCatalog{customsDir: customsDir}
}

// Lookup reports whether the chart's bundle is present. Archived copies
// (old_ suffix) never match. The bundle format does not expose a duration
// without the engine, so it reports zero.
func (c *FileCatalog) Lookup(fileReference string) (int, error) {
	if fileReference == "" || strings.Contains(fileReference, "old_") {
		return 0, errors.Mark(errors.Newf("invalid file reference %q", fileReference), ErrNotInCatalog)
	}

	path := filepath.Join(c.customsDir, fileReference+".srtb")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Mark(err, ErrNotInCatalog)
		}
		return 0, errors.Wrapf(err, "failed to stat %s", path)
	}

	return 0, nil
}

// LogNotifier writes toast messages to the log instead of an in-game
// notification surface.
type LogNotifier struct{}

// AddMessage logs the toast.
func (LogNotifier) AddMessage(message string) {
	zlog.Info().Str("toast", message).Msg("notification")
}

// LogSurface is a display surface that is always available and renders
// entries to the log.
type LogSurface struct{}

// AddEntryToDisplay logs the entry.
func (LogSurface) AddEntryToDisplay(e *queue.Entry) error {
	zlog.Info().Str("title", e.Title).Str("key", e.CatalogKey()).Msg("entry displayed")
	return nil
}

// RemoveEntryFromDisplay logs the removal.
func (LogSurface) RemoveEntryFromDisplay(e *queue.Entry) {
	zlog.Info().Str("title", e.Title).Str("key", e.CatalogKey()).Msg("entry removed from display")
}

// LogJumper logs track jumps.
type LogJumper struct{}

// JumpToTrack logs the jump.
func (LogJumper) JumpToTrack(fileReference string) error {
	zlog.Info().Str("ref", fileReference).Msg("jumping to track")
	return nil
}

// IdleStatus is a playback status for headless runs: never playing.
type IdleStatus struct{}

// Elapsed reports that nothing is playing.
func (IdleStatus) Elapsed() (float64, bool) {
	return 0, false
}
