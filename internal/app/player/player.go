// Package player drives the play/skip flow for queued entries, including
// the download-then-wait-for-catalog resolution for charts that are not
// on disk yet.
package player

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/TheBlackParrot/SpinRequests/internal/app/requests"
	"github.com/TheBlackParrot/SpinRequests/internal/app/session"
	"github.com/TheBlackParrot/SpinRequests/internal/domain/queue"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/engine"
)

// Catalog resolves charts the engine has loaded. Catalog reload
// completion is not observable, so callers poll Lookup.
type Catalog interface {
	// Lookup returns the duration in seconds of the chart with the given
	// file reference, or engine.ErrNotInCatalog if it is not loaded (yet).
	Lookup(fileReference string) (int, error)
}

// Downloader fetches a chart bundle into the customs directory.
type Downloader interface {
	DownloadChart(ctx context.Context, id int, destDir string) error
}

// Jumper navigates the engine to a loaded chart.
type Jumper interface {
	JumpToTrack(fileReference string) error
}

// Notifier shows user-facing toasts.
type Notifier interface {
	AddMessage(message string)
}

// Config holds player configuration.
type Config struct {
	CustomsDir                string
	DeleteOldMapFiles         bool
	JumpToMapAfterDownloading bool

	// Catalog visibility polling. Fixed-delay polling because catalog
	// reload completion is not independently observable.
	PollAttempts int
	PollDelay    time.Duration
}

// Player executes play and skip actions against the queue.
type Player struct {
	cfg        Config
	catalog    Catalog
	downloader Downloader
	jumper     Jumper
	notifier   Notifier
	manager    *requests.Manager
	tracker    *session.Tracker
}

// New creates a player.
func New(cfg Config, catalog Catalog, downloader Downloader, jumper Jumper, notifier Notifier, manager *requests.Manager, tracker *session.Tracker) *Player {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 12
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = 250 * time.Millisecond
	}
	return &Player{
		cfg:        cfg,
		catalog:    catalog,
		downloader: downloader,
		jumper:     jumper,
		notifier:   notifier,
		manager:    manager,
		tracker:    tracker,
	}
}

// Play resolves the entry's asset (downloading it first when needed),
// then jumps to it, removes it from the queue and records the play.
//
// A fresh download with jump-after-download disabled stops early: the
// entry stays queued with its duration backfilled, ready for a second
// play action. Returns whether the entry was actually played.
//
// On failure the entry stays queued so the action can be retried.
func (p *Player) Play(ctx context.Context, e *queue.Entry) (bool, error) {
	zlog.Debug().Str("title", e.Title).Str("key", e.CatalogKey()).Msg("play requested")

	wasDownloaded := e.AlreadyDownloaded(p.cfg.CustomsDir)

	if !wasDownloaded && e.IsCustom {
		if err := p.download(ctx, e); err != nil {
			p.toast(fmt.Sprintf("Failed downloading map %s", e.CatalogKey()))
			return false, err
		}
	}

	ref := ""
	if e.FileReference != nil {
		ref = *e.FileReference
	}

	duration, err := p.waitForCatalog(ctx, ref)
	if err != nil {
		if errors.Is(err, engine.ErrNotInCatalog) {
			p.toast(fmt.Sprintf("Failed to find map %s", e.CatalogKey()))
		} else {
			p.toast(fmt.Sprintf("Failed downloading map %s (wuh oh)", e.CatalogKey()))
		}
		return false, err
	}

	if !wasDownloaded && !p.cfg.JumpToMapAfterDownloading {
		// Downloaded but not played yet; the entry stays queued with its
		// real duration so the next play action goes straight through.
		e.Duration = &duration
		p.manager.Persist()
		zlog.Info().Str("title", e.Title).Msg("chart downloaded, awaiting play action")
		return false, nil
	}

	if e.Duration == nil {
		e.Duration = &duration
	}

	if err := p.jumper.JumpToTrack(ref); err != nil {
		return false, errors.Wrapf(err, "failed to jump to %s", e.CatalogKey())
	}

	p.manager.Remove(e, requests.RemovedPlayed)
	p.tracker.TrackStarted(e)
	return true, nil
}

// Skip removes the entry without playing it.
func (p *Player) Skip(e *queue.Entry) {
	zlog.Debug().Str("title", e.Title).Str("key", e.CatalogKey()).Msg("skip requested")
	p.manager.Remove(e, requests.RemovedSkipped)
}

// download fetches the chart bundle, first moving any superseded local
// files out of the way (deleted or renamed aside per configuration).
func (p *Player) download(ctx context.Context, e *queue.Entry) error {
	if e.SpinShareKey == nil {
		return errors.New("entry has no catalog key to download")
	}

	p.toast(fmt.Sprintf("Downloading map %s...", e.CatalogKey()))

	stamp := time.Now().Unix()
	p.retireOldFile(e.ChartPath(p.cfg.CustomsDir), stamp)
	p.retireOldFile(e.AlbumArtPath(p.cfg.CustomsDir), stamp)

	if err := p.downloader.DownloadChart(ctx, *e.SpinShareKey, p.cfg.CustomsDir); err != nil {
		return errors.Wrapf(err, "failed to download chart %s", e.CatalogKey())
	}

	p.toast(fmt.Sprintf("Successfully downloaded map %s!", e.CatalogKey()))
	return nil
}

// retireOldFile deletes or renames a superseded chart file to
// <name>old_<unix>.<ext>, depending on configuration.
func (p *Player) retireOldFile(path string, stamp int64) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	if p.cfg.DeleteOldMapFiles {
		if err := os.Remove(path); err != nil {
			zlog.Warn().Err(err).Str("path", path).Msg("could not delete old chart file")
		}
		return
	}

	ext := filepath.Ext(path)
	retired := strings.TrimSuffix(path, ext) + fmt.Sprintf("old_%d%s", stamp, ext)
	if err := os.Rename(path, retired); err != nil {
		zlog.Warn().Err(err).Str("path", path).Msg("could not archive old chart file")
	}
}

// waitForCatalog polls until the chart becomes visible in the loaded
// catalog. "Not found yet" retries up to the attempt cap; any other
// failure aborts immediately.
func (p *Player) waitForCatalog(ctx context.Context, ref string) (int, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.PollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(p.cfg.PollDelay):
			}
		}

		duration, err := p.catalog.Lookup(ref)
		if err == nil {
			zlog.Debug().Str("ref", ref).Int("attempts", attempt+1).Msg("found chart in catalog")
			return duration, nil
		}
		if !errors.Is(err, engine.ErrNotInCatalog) {
			return 0, err
		}
		lastErr = err
	}

	return 0, errors.Wrapf(lastErr, "chart %q did not appear after %d attempts", ref, p.cfg.PollAttempts)
}

func (p *Player) toast(message string) {
	if p.notifier != nil {
		p.notifier.AddMessage(message)
	}
}
