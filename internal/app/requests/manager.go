// Package requests provides the request queue manager.
package requests

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/TheBlackParrot/SpinRequests/internal/app/broadcast"
	"github.com/TheBlackParrot/SpinRequests/internal/domain/queue"
	"github.com/TheBlackParrot/SpinRequests/internal/infra/persist"
)

// ErrQueueClosed is returned by Add when the gate is closed and the
// request was not forced.
var ErrQueueClosed = errors.New("the queue is closed")

// RemovalReason says why an entry left the queue; it doubles as the
// firehose event name.
type RemovalReason string

const (
	RemovedPlayed  RemovalReason = broadcast.EventPlayed
	RemovedSkipped RemovalReason = broadcast.EventSkipped
)

// Surface is the display collaborator. It may not exist yet when requests
// arrive; entries are buffered until it does.
type Surface interface {
	AddEntryToDisplay(e *queue.Entry) error
	RemoveEntryFromDisplay(e *queue.Entry)
}

// Broadcaster pushes queue events to firehose subscribers.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Notifier shows user-facing toasts on the host's notification surface.
type Notifier interface {
	AddMessage(message string)
}

// History answers whether a song crossed the played threshold.
type History interface {
	HasCrossed(fileReference string) bool
}

// AddOptions modify a single Add call.
type AddOptions struct {
	// Silent suppresses the toast and the AddedToQueue broadcast.
	Silent bool
	// Force bypasses the open/closed gate.
	Force bool
}

// Config holds manager configuration.
type Config struct {
	EnableNotifications bool
	CustomsDir          string
}

// Manager owns the active and buffered request lists and the open/closed
// gate. All mutation is funneled through one mutex; the original relied
// on a single-threaded UI affinity for the same guarantee.
type Manager struct {
	mu sync.Mutex

	cfg         Config
	store       *persist.Store
	broadcaster Broadcaster
	notifier    Notifier
	history     History

	surface Surface
	open    bool

	entries  []*queue.Entry
	buffered []*queue.Entry
}

// NewManager creates a queue manager. Any previously persisted queue
// snapshot is recovered into the buffered list ahead of live requests.
func NewManager(cfg Config, store *persist.Store, broadcaster Broadcaster, notifier Notifier, history History) *Manager {
	m := &Manager{
		cfg:         cfg,
		store:       store,
		broadcaster: broadcaster,
		notifier:    notifier,
		history:     history,
		entries:     make([]*queue.Entry, 0),
		buffered:    make([]*queue.Entry, 0),
	}

	var recovered []*queue.Entry
	if store != nil && store.Load(&recovered) && len(recovered) > 0 {
		m.buffered = recovered
		zlog.Info().Int("count", len(recovered)).Msg("recovered persisted queue into buffer")
	}

	return m
}

// IsOpen reports whether the queue accepts unforced requests.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// SetOpen toggles the request gate and announces the new state.
func (m *Manager) SetOpen(open bool) {
	m.mu.Lock()
	m.open = open
	m.mu.Unlock()

	zlog.Info().Bool("open", open).Msg("queue gate toggled")
	m.broadcaster.Broadcast(broadcast.EventRequestsAllowed, open)
}

// Add accepts an entry into the queue. Rejected with ErrQueueClosed when
// the gate is closed and the request is not forced. Accepted entries go
// to the display surface when one is attached, otherwise to the buffer.
func (m *Manager) Add(e *queue.Entry, opts AddOptions) error {
	m.mu.Lock()

	if !m.open && !opts.Force {
		m.mu.Unlock()
		return ErrQueueClosed
	}

	if m.surface == nil {
		m.buffered = append(m.buffered, e)
	} else {
		if err := m.surface.AddEntryToDisplay(e); err != nil {
			zlog.Error().Err(err).Str("title", e.Title).Msg("display surface rejected entry, buffering")
			m.buffered = append(m.buffered, e)
		} else {
			m.entries = append(m.entries, e)
		}
	}

	m.saveLocked()
	view := m.viewLocked(e)
	m.mu.Unlock()

	if !opts.Silent {
		if m.cfg.EnableNotifications && m.notifier != nil {
			m.notifier.AddMessage(fmt.Sprintf("%s added %s (%s) to the queue!", e.Requester, e.Title, e.CatalogKey()))
		}
		m.broadcaster.Broadcast(broadcast.EventAddedToQueue, view)
	}

	zlog.Info().Str("title", e.Title).Str("requester", e.Requester).Str("key", e.CatalogKey()).Msg("added entry to queue")
	return nil
}

// Remove drops an entry by reference identity. Duplicate file references
// may coexist transiently, so removal never matches by FileReference.
func (m *Manager) Remove(e *queue.Entry, reason RemovalReason) {
	m.mu.Lock()

	removed := false
	for i, candidate := range m.entries {
		if candidate == e {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		for i, candidate := range m.buffered {
			if candidate == e {
				m.buffered = append(m.buffered[:i], m.buffered[i+1:]...)
				removed = true
				break
			}
		}
	}

	if !removed {
		m.mu.Unlock()
		zlog.Warn().Str("title", e.Title).Msg("asked to remove an entry that is not queued")
		return
	}

	if m.surface != nil {
		m.surface.RemoveEntryFromDisplay(e)
	}

	m.saveLocked()
	view := m.viewLocked(e)
	m.mu.Unlock()

	m.broadcaster.Broadcast(string(reason), view)
	zlog.Info().Str("title", e.Title).Str("reason", string(reason)).Msg("removed entry from queue")
}

// List returns the queued entries in insertion order, active list first,
// optionally filtered to a single requester.
func (m *Manager) List(requester string) []*queue.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*queue.Entry, 0, len(m.entries)+len(m.buffered))
	for _, e := range append(append([]*queue.Entry{}, m.entries...), m.buffered...) {
		if requester == "" || e.Requester == requester {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether any queued entry refers to the same song.
func (m *Manager) Contains(e *queue.Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containsLocked(e)
}

func (m *Manager) containsLocked(e *queue.Entry) bool {
	for _, candidate := range m.entries {
		if candidate.SameSong(e) {
			return true
		}
	}
	for _, candidate := range m.buffered {
		if candidate.SameSong(e) {
			return true
		}
	}
	return false
}

// AttachSurface hands the manager its display surface and flushes the
// buffered list into it, oldest first. A failing entry is logged and kept
// on the active list anyway; the rest of the flush continues.
func (m *Manager) AttachSurface(s Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.surface != nil {
		zlog.Warn().Msg("display surface already attached, ignoring")
		return
	}
	m.surface = s

	if len(m.buffered) == 0 {
		return
	}

	for _, e := range m.buffered {
		if err := s.AddEntryToDisplay(e); err != nil {
			zlog.Error().Err(err).Str("title", e.Title).Msg("failed to display buffered entry")
		}
		m.entries = append(m.entries, e)
	}
	flushed := len(m.buffered)
	m.buffered = m.buffered[:0]

	m.saveLocked()
	zlog.Info().Int("count", flushed).Msg("flushed buffered queue to display")
}

// Persist rewrites the queue snapshot. Used after in-place edits to a
// queued entry (e.g. a backfilled duration).
func (m *Manager) Persist() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked()
}

// saveLocked persists the full active+buffered snapshot. Persistence
// failures are logged, never fatal to the operation.
func (m *Manager) saveLocked() {
	if m.store == nil {
		return
	}
	snapshot := append(append([]*queue.Entry{}, m.entries...), m.buffered...)
	if err := m.store.Save(snapshot); err != nil {
		zlog.Error().Err(err).Msg("failed to persist queue")
	}
}

// EntryView is an entry plus its derived state, computed at serialization
// time and never persisted.
type EntryView struct {
	*queue.Entry
	AlreadyDownloaded bool `json:"AlreadyDownloaded"`
	HasPlayed         bool `json:"HasPlayed"`
	InQueue           bool `json:"InQueue"`
}

// View decorates an entry with its derived state.
func (m *Manager) View(e *queue.Entry) EntryView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked(e)
}

func (m *Manager) viewLocked(e *queue.Entry) EntryView {
	hasPlayed := false
	if m.history != nil && e.FileReference != nil {
		hasPlayed = m.history.HasCrossed(*e.FileReference)
	}
	return EntryView{
		Entry:             e,
		AlreadyDownloaded: e.AlreadyDownloaded(m.cfg.CustomsDir),
		HasPlayed:         hasPlayed,
		InQueue:           m.containsLocked(e),
	}
}

// Views decorates a slice of entries.
func (m *Manager) Views(entries []*queue.Entry) []EntryView {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, m.viewLocked(e))
	}
	return out
}
