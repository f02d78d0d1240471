// Package history keeps the append-only allocation history and replays it to any point in time.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/imeapplication/regulatory-patrol/internal/domain"
	"github.com/imeapplication/regulatory-patrol/internal/metrics"
	"github.com/imeapplication/regulatory-patrol/internal/repo"
)

// TimeFormat is the persisted timestamp layout: UTC with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Log is the allocation history. Entries are never edited or removed once appended.
type Log struct {
	mu      sync.RWMutex
	entries []domain.AllocationHistoryEntry
	repo    repo.Repo
	log     zerolog.Logger
	metrics *metrics.Recorder

	Now func() time.Time
}

// Load reads the persisted history. A missing or corrupt document yields an empty log.
func Load(ctx context.Context, r repo.Repo, rec *metrics.Recorder, log zerolog.Logger) (*Log, error) {
	entries, err := r.LoadHistory(ctx)
	if err != nil {
		return nil, err
	}
	rec.HistoryLen(len(entries))
	return &Log{entries: entries, repo: r, log: log, metrics: rec, Now: time.Now}, nil
}

// Append stamps e with the current time and persists the whole log. If the write fails the
// entry is dropped again and the error returned.
func (l *Log) Append(ctx context.Context, e domain.AllocationHistoryEntry) (domain.AllocationHistoryEntry, error) {
	out, err := l.AppendAll(ctx, e)
	if err != nil {
		return domain.AllocationHistoryEntry{}, err
	}
	return out[0], nil
}

// AppendAll stamps and persists entries with a single write. Either all of them are kept or,
// when the write fails, none.
func (l *Log) AppendAll(ctx context.Context, entries ...domain.AllocationHistoryEntry) ([]domain.AllocationHistoryEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	now := l.Now
	if now == nil {
		now = time.Now
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// stamped under the lock so log order is chronological order
	ts := now().UTC().Format(TimeFormat)
	out := make([]domain.AllocationHistoryEntry, len(entries))
	for i, e := range entries {
		e.Timestamp = ts
		out[i] = e
	}
	n := len(l.entries)
	l.entries = append(l.entries, out...)
	if err := l.repo.SaveHistory(ctx, l.entries); err != nil {
		l.entries = l.entries[:n]
		l.log.Error().Err(err).Str("user_id", out[0].UserID).Str("role", string(out[0].Role)).Int("entries", len(out)).Msg("history entries not persisted")
		return nil, err
	}
	for _, e := range out {
		l.metrics.HistoryEntry(string(e.Role), string(e.Action))
		l.log.Debug().
			Str("user_id", e.UserID).
			Str("role", string(e.Role)).
			Str("action", string(e.Action)).
			Str("subject", e.Subject()).
			Msg("history entry appended")
	}
	l.metrics.HistoryLen(len(l.entries))
	return out, nil
}

// All returns every entry in insertion order.
func (l *Log) All() []domain.AllocationHistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.AllocationHistoryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) ForUser(userID string) []domain.AllocationHistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.AllocationHistoryEntry
	for _, e := range l.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
