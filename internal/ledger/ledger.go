// Package ledger records the append-only status history of workflow entities.
//
// Entry n of a record lives under its own numbered key and is written with a
// conditional put, so each position is written at most once and by exactly one
// writer. A record exists once entry 0 is stored; there is no separate marker
// that could outlive a failed first write. There is no API to delete or
// rewrite an entry.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"clipstitch/internal/kv"
	"clipstitch/internal/services"
)

var (
	// ErrExists reports a Create for a record that already has history.
	ErrExists = fmt.Errorf("%w: history record already exists", services.ErrConflict)
	// ErrNotFound reports a record with no history.
	ErrNotFound = fmt.Errorf("%w: history record not found", services.ErrNotFound)
	// ErrUnknownStatus reports a status outside the ledger's closed set.
	ErrUnknownStatus = fmt.Errorf("%w: unknown status", services.ErrValidation)
	// ErrStale reports an AppendAt whose position was already written.
	ErrStale = fmt.Errorf("%w: history changed since it was read", services.ErrConflict)
)

// maxAppendAttempts bounds how often Append re-reads the length after losing a
// position to a concurrent writer.
const maxAppendAttempts = 64

// Entry is one status change.
type Entry struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	RunID             string    `json:"run_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	Interrupted       bool      `json:"interrupted,omitempty"`
	SegmentCount      int       `json:"segment_count,omitempty"`
	SegmentIndex      int       `json:"segment_index,omitempty"`
	ProcessingSeconds float64   `json:"processing_seconds,omitempty"`
	DurationSeconds   float64   `json:"duration_seconds,omitempty"`
	Key               string    `json:"key,omitempty"`
	Size              int64     `json:"size,omitempty"`
}

// Ledger binds a status set to one entity kind.
type Ledger struct {
	store    kv.Store
	kind     string
	statuses []string
	now      func() time.Time
}

// New returns a ledger for entities of kind whose statuses must be one of statuses.
func New(store kv.Store, kind string, statuses []string) *Ledger {
	return &Ledger{
		store:    store,
		kind:     kind,
		statuses: slices.Clone(statuses),
		now:      time.Now,
	}
}

// Kind returns the entity kind this ledger records.
func (l *Ledger) Kind() string { return l.kind }

func (l *Ledger) entryKey(entity string, n int) string {
	return fmt.Sprintf("ledger/%s/%s/%08d", l.kind, entity, n)
}

func (l *Ledger) prepare(entity string, entry Entry) ([]byte, Entry, error) {
	if entity == "" {
		return nil, entry, fmt.Errorf("%w: empty %s id", services.ErrValidation, l.kind)
	}
	if !slices.Contains(l.statuses, entry.Status) {
		return nil, entry, fmt.Errorf("%w: %s status %q", ErrUnknownStatus, l.kind, entry.Status)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, entry, fmt.Errorf("encode %s entry: %w", l.kind, err)
	}
	return data, entry, nil
}

// AppendAt stores entry as entry n of entity. It fails with ErrStale when
// position n is taken, and with ErrNotFound when entry n-1 does not exist.
func (l *Ledger) AppendAt(ctx context.Context, entity string, n int, entry Entry) (Entry, error) {
	data, entry, err := l.prepare(entity, entry)
	if err != nil {
		return entry, err
	}
	return l.put(ctx, entity, n, data, entry)
}

func (l *Ledger) put(ctx context.Context, entity string, n int, data []byte, entry Entry) (Entry, error) {
	if n < 0 {
		return entry, fmt.Errorf("%w: %s %s position %d", services.ErrValidation, l.kind, entity, n)
	}
	if n > 0 {
		if _, err := l.store.Get(ctx, l.entryKey(entity, n-1)); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				return entry, fmt.Errorf("%w: %s %s has no entry %d", ErrNotFound, l.kind, entity, n-1)
			}
			return entry, fmt.Errorf("check %s %s: %w", l.kind, entity, err)
		}
	}
	ok, err := l.store.PutIfAbsent(ctx, l.entryKey(entity, n), data)
	if err != nil {
		return entry, fmt.Errorf("append %s %s: %w", l.kind, entity, err)
	}
	if !ok {
		return entry, fmt.Errorf("%w: %s %s entry %d", ErrStale, l.kind, entity, n)
	}
	return entry, nil
}

// Create starts the history of entity with entry.
func (l *Ledger) Create(ctx context.Context, entity string, entry Entry) (Entry, error) {
	entry, err := l.AppendAt(ctx, entity, 0, entry)
	if errors.Is(err, ErrStale) {
		return entry, fmt.Errorf("%w: %s %s", ErrExists, l.kind, entity)
	}
	return entry, err
}

// Append adds entry to an existing history.
func (l *Ledger) Append(ctx context.Context, entity string, entry Entry) (Entry, error) {
	return l.appendNext(ctx, entity, entry, false)
}

// AppendOrCreate appends entry, creating the record first when needed.
func (l *Ledger) AppendOrCreate(ctx context.Context, entity string, entry Entry) (Entry, error) {
	return l.appendNext(ctx, entity, entry, true)
}

func (l *Ledger) appendNext(ctx context.Context, entity string, entry Entry, create bool) (Entry, error) {
	data, entry, err := l.prepare(entity, entry)
	if err != nil {
		return entry, err
	}
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		n, err := l.Len(ctx, entity)
		if err != nil {
			return entry, err
		}
		if n == 0 && !create {
			return entry, fmt.Errorf("%w: %s %s", ErrNotFound, l.kind, entity)
		}
		entry, err = l.put(ctx, entity, n, data, entry)
		if !errors.Is(err, ErrStale) {
			return entry, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return entry, ctxErr
		}
	}
	return entry, fmt.Errorf("%w: %s %s kept moving", ErrStale, l.kind, entity)
}

// Len returns the number of entries of entity.
func (l *Ledger) Len(ctx context.Context, entity string) (int, error) {
	n := 0
	for {
		_, err := l.store.Get(ctx, l.entryKey(entity, n))
		if errors.Is(err, kv.ErrNotFound) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read %s %s: %w", l.kind, entity, err)
		}
		n++
	}
}

// Exists reports whether entity has any history.
func (l *Ledger) Exists(ctx context.Context, entity string) (bool, error) {
	_, err := l.store.Get(ctx, l.entryKey(entity, 0))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kv.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("read %s %s: %w", l.kind, entity, err)
	}
}

// History returns every entry of entity, oldest first.
func (l *Ledger) History(ctx context.Context, entity string) ([]Entry, error) {
	var out []Entry
	for n := 0; ; n++ {
		data, err := l.store.Get(ctx, l.entryKey(entity, n))
		if errors.Is(err, kv.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s %s: %w", l.kind, entity, err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("decode %s %s entry %d: %w", l.kind, entity, n, err)
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, l.kind, entity)
	}
	return out, nil
}

// Current returns the most recent entry of entity.
func (l *Ledger) Current(ctx context.Context, entity string) (Entry, error) {
	history, err := l.History(ctx, entity)
	if err != nil {
		return Entry{}, err
	}
	return history[len(history)-1], nil
}
