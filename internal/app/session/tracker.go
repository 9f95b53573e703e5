// Package session tracks play history across the process's lifetime.
package session

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/TheBlackParrot/SpinRequests/internal/domain/queue"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/persist"
)

// PlaybackStatus exposes the engine's current playback position.
type PlaybackStatus interface {
	// Elapsed returns the current track's elapsed seconds and whether a
	// track is actively playing outside any preview mode.
	Elapsed() (float64, bool)
}

// Config holds tracker configuration.
type Config struct {
	// PlayedThresholdPercentage of a track's duration that must elapse
	// before the track counts as played.
	PlayedThresholdPercentage int
	// Retention is how long persisted history files stay trustworthy.
	// Zero means persisted data is never trusted across restarts.
	Retention time.Duration
}

// Tracker records which songs were played this session and which of them
// crossed the played threshold.
type Tracker struct {
	mu sync.Mutex

	cfg          Config
	historyStore *persist.Store
	crossedStore *persist.Store
	status       PlaybackStatus

	// history holds played entry snapshots, most recent first.
	history []*queue.Entry
	// crossed is the set of file references past the played threshold,
	// kept alongside an ordered list for persistence.
	crossed     map[string]struct{}
	crossedList []string

	// Latch for the currently playing track instance; reset on track start.
	neededSeconds float64
	hasSetPlayed  bool
}

// NewTracker creates a tracker and loads persisted state that is still
// within the retention window.
func NewTracker(cfg Config, historyStore, crossedStore *persist.Store, status PlaybackStatus) *Tracker {
	t := &Tracker{
		cfg:          cfg,
		historyStore: historyStore,
		crossedStore: crossedStore,
		status:       status,
		crossed:      make(map[string]struct{}),
	}

	if historyStore != nil {
		var history []*queue.Entry
		if historyStore.LoadWithin(&history, cfg.Retention) {
			t.history = history
			zlog.Info().Int("count", len(history)).Msg("recovered session play history")
		}
	}
	if crossedStore != nil {
		var crossed []string
		if crossedStore.LoadWithin(&crossed, cfg.Retention) {
			for _, ref := range crossed {
				if _, ok := t.crossed[ref]; !ok {
					t.crossed[ref] = struct{}{}
					t.crossedList = append(t.crossedList, ref)
				}
			}
		}
	}

	return t
}

// TrackStarted records that a track began playing: the entry goes into
// the history (deduped against its immediate predecessor) and the played
// latch resets for the new track instance.
func (t *Tracker) TrackStarted(e *queue.Entry) {
	t.RecordPlay(e)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.hasSetPlayed = false
	t.neededSeconds = 0
	if e.Duration != nil {
		t.neededSeconds = RequiredSeconds(float64(*e.Duration), t.cfg.PlayedThresholdPercentage)
	}
}

// RecordPlay prepends an entry snapshot to the history. A repeated play
// of the song already at the head (a restarted or looped track) is not
// re-recorded.
func (t *Tracker) RecordPlay(e *queue.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) > 0 && t.history[0].SameSong(e) {
		return
	}

	t.history = append([]*queue.Entry{e}, t.history...)
	t.saveHistoryLocked()
	zlog.Debug().Str("title", e.Title).Msg("recorded play")
}

// MarkThresholdCrossed adds a file reference to the crossed set. Idempotent;
// a nil/empty reference is ignored. Persists only when something new was
// added.
func (t *Tracker) MarkThresholdCrossed(fileReference string) {
	if fileReference == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.crossed[fileReference]; ok {
		return
	}
	t.crossed[fileReference] = struct{}{}
	t.crossedList = append(t.crossedList, fileReference)
	t.saveCrossedLocked()
	zlog.Debug().Str("ref", fileReference).Msg("played threshold crossed")
}

// HasCrossed reports whether a file reference crossed the played threshold.
func (t *Tracker) HasCrossed(fileReference string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.crossed[fileReference]
	return ok
}

// History returns played entries, most recent first. limit truncates when
// positive; onlyPlayed keeps only entries whose threshold was crossed.
func (t *Tracker) History(limit int, onlyPlayed bool) []*queue.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*queue.Entry, 0, len(t.history))
	for _, e := range t.history {
		if onlyPlayed {
			if e.FileReference == nil {
				continue
			}
			if _, ok := t.crossed[*e.FileReference]; !ok {
				continue
			}
		}
		out = append(out, e)
	}

	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// RequiredSeconds computes the elapsed playback time a track needs before
// it counts as played.
func RequiredSeconds(trackTotalDuration float64, playedPercentage int) float64 {
	return trackTotalDuration * float64(playedPercentage) / 100
}

// Run samples playback elapsed time at a 1-second cadence until the
// context is cancelled. The first sample at or past the needed time marks
// the newest history entry as threshold-crossed, once per track instance.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sample()
		}
	}
}

// Sample performs one threshold check against the playback status.
func (t *Tracker) Sample() {
	if t.status == nil {
		return
	}
	elapsed, playing := t.status.Elapsed()
	if !playing {
		return
	}

	t.mu.Lock()
	if len(t.history) == 0 || t.hasSetPlayed || elapsed < t.neededSeconds {
		t.mu.Unlock()
		return
	}
	t.hasSetPlayed = true
	ref := t.history[0].FileReference
	t.mu.Unlock()

	if ref != nil {
		t.MarkThresholdCrossed(*ref)
	}
}

func (t *Tracker) saveHistoryLocked() {
	if t.historyStore == nil {
		return
	}
	if err := t.historyStore.Save(t.history); err != nil {
		zlog.Error().Err(err).Msg("failed to persist play history")
	}
}

func (t *Tracker) saveCrossedLocked() {
	if t.crossedStore == nil {
		return
	}
	if err := t.crossedStore.Save(t.crossedList); err != nil {
		zlog.Error().Err(err).Msg("failed to persist crossed set")
	}
}
