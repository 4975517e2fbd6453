// Package window implements the Conversation Window (§4.F): a bounded,
// per-session rolling list of recent messages plus a running summary of
// aged-out content, with a background retention sweep.
package window

import (
	"context"
	"sync"
	"time"

	"convomem/log"
	"convomem/model"
	"convomem/summarizer"
)

// Config controls window sizing and retention.
type Config struct {
	Size                   int // W: max recent messages retained verbatim
	MaxSummaryChars        int
	MaxAgeHours            int
	CleanupIntervalMinutes int
}

// DefaultConfig mirrors the spec's example defaults.
func DefaultConfig() Config {
	return Config{Size: 6, MaxSummaryChars: 1000, MaxAgeHours: 24, CleanupIntervalMinutes: 60}
}

// Context is the per-session state returned by Window.Context.
type Context struct {
	RecentMessages []*model.Message
	Summary        string
}

type sessionState struct {
	mu        sync.Mutex
	recent    []*model.Message
	summary   string
	lastTouch time.Time
}

// Window holds per-session conversation windows, each guarded by its own
// mutex so cross-session operations never block each other, mirroring
// the teacher's per-key lock map pattern (model/memory.go's
// getOrCreateLock) generalized from a sync.Map to a plain mutex-guarded
// map since session churn here is modest.
type Window struct {
	cfg        Config
	summarizer *summarizer.Summarizer

	mu       sync.Mutex // guards sessions map membership only
	sessions map[string]*sessionState

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New builds a Window over cfg, folding evicted content via s. s may be
// nil, in which case eviction falls back to the Summarizer's own
// degraded-fold behavior (it tolerates a nil completer).
func New(cfg Config, s *summarizer.Summarizer) *Window {
	if cfg.Size <= 0 {
		cfg = DefaultConfig()
	}
	return &Window{
		cfg:        cfg,
		summarizer: s,
		sessions:   make(map[string]*sessionState),
		stopSweep:  make(chan struct{}),
	}
}

func (w *Window) getOrCreate(sessionID string) *sessionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.sessions[sessionID]
	if !ok {
		st = &sessionState{lastTouch: time.Now()}
		w.sessions[sessionID] = st
	}
	return st
}

// Append pushes msg to the tail of sessionID's window. If the window
// exceeds Size, the oldest messages are popped and folded into the
// summary synchronously before Append returns, so the invariant that
// evicted content is represented in Summary holds at the very next
// Context call.
func (w *Window) Append(ctx context.Context, sessionID string, msg *model.Message) {
	st := w.getOrCreate(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.recent = append(st.recent, msg)
	st.lastTouch = time.Now()

	if len(st.recent) <= w.cfg.Size {
		return
	}

	overflow := len(st.recent) - w.cfg.Size
	evicted := st.recent[:overflow]
	st.recent = st.recent[overflow:]

	s := w.summarizer
	if s == nil {
		s = summarizer.New(nil, w.cfg.MaxSummaryChars)
	}
	st.summary = s.Fold(ctx, st.summary, evicted)
}

// Context returns sessionID's current recent-message list and summary.
// Either part may be empty. The returned slice is a copy; callers may
// not mutate it.
func (w *Window) Context(sessionID string) Context {
	st := w.getOrCreate(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	recent := make([]*model.Message, len(st.recent))
	copy(recent, st.recent)
	return Context{RecentMessages: recent, Summary: st.summary}
}

// Clear discards sessionID's window state entirely.
func (w *Window) Clear(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, sessionID)
}

// StartSweep launches the background retention sweep: every
// CleanupIntervalMinutes, sessions untouched for MaxAgeHours are
// evicted entirely. Call Stop to terminate it.
func (w *Window) StartSweep() {
	interval := time.Duration(w.cfg.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.sweepOnceNow()
			case <-w.stopSweep:
				return
			}
		}
	}()
}

// Stop terminates the background retention sweep goroutine, if running.
func (w *Window) Stop() {
	w.sweepOnce.Do(func() { close(w.stopSweep) })
}

func (w *Window) sweepOnceNow() {
	maxAge := time.Duration(w.cfg.MaxAgeHours) * time.Hour
	if maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-maxAge)

	w.mu.Lock()
	stale := make([]string, 0)
	for id, st := range w.sessions {
		st.mu.Lock()
		touched := st.lastTouch
		st.mu.Unlock()
		if touched.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(w.sessions, id)
	}
	w.mu.Unlock()

	if len(stale) > 0 {
		log.Log.Infof("window: retention sweep evicted %d stale session windows", len(stale))
	}
}
