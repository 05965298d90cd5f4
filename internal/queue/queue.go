// Package queue carries lifecycle notifications from the short-lived
// installer process to the long-lived serving process.
//
// The queue is one document mapping event kind to an ordered list of
// entries. Every mutation reads the whole document, changes it and writes
// it back; there is no lock shared between processes, so two installer
// processes finishing at the same instant resolve as last-writer-wins.
// Within a process, mutations are serialized.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackwell-systems/addonsync/internal/addon"
)

// Entry is one pending notification.
type Entry struct {
	ID         string          `json:"id"`
	Kind       addon.EventKind `json:"-"`
	Channel    string          `json:"channel"`
	Listeners  []string        `json:"listeners"`
	Package    addon.Ref       `json:"package"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// document is the persisted form.
type document map[addon.EventKind][]Entry

// Queue is the deferred event queue.
type Queue struct {
	storage Storage
	mu      sync.Mutex
}

// New creates a Queue backed by storage.
func New(storage Storage) *Queue {
	return &Queue{storage: storage}
}

// Enqueue appends an entry for kind and persists the whole queue before
// returning.
func (q *Queue) Enqueue(ctx context.Context, kind addon.EventKind, ref addon.Ref, listeners []string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	doc, err := q.load(ctx)
	if err != nil {
		return Entry{}, err
	}

	declared := make([]string, len(listeners))
	copy(declared, listeners)
	entry := Entry{
		ID:         uuid.NewString(),
		Kind:       kind,
		Channel:    addon.Channel(kind, ref.Name),
		Listeners:  declared,
		Package:    ref,
		EnqueuedAt: time.Now().UTC(),
	}
	doc[kind] = append(doc[kind], entry)

	if err := q.save(ctx, doc); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Drain returns every pending entry without removing any. Entries are grouped
// by event kind in addon.EventKinds order and keep insertion order within a
// kind. A missing or empty document yields an empty slice.
func (q *Queue) Drain(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	doc, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	return flatten(doc), nil
}

// Pending returns the number of queued entries.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	entries, err := q.Drain(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Clear empties the queue. Call it only after every drained entry has been
// dispatched.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(ctx, document{})
}

// Acknowledge removes the entries with the given IDs and keeps anything
// enqueued since they were drained.
func (q *Queue) Acknowledge(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	done := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}

	doc, err := q.load(ctx)
	if err != nil {
		return err
	}

	remaining := document{}
	for kind, entries := range doc {
		for _, e := range entries {
			if _, ok := done[e.ID]; !ok {
				remaining[kind] = append(remaining[kind], e)
			}
		}
	}
	return q.save(ctx, remaining)
}

func (q *Queue) load(ctx context.Context) (document, error) {
	data, err := q.storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	doc := document{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	for kind, entries := range doc {
		for i := range entries {
			entries[i].Kind = kind
			if entries[i].Listeners == nil {
				entries[i].Listeners = []string{}
			}
		}
	}
	return doc, nil
}

func (q *Queue) save(ctx context.Context, doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.storage.Save(ctx, data); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

// flatten orders entries by known kind, then any unrecognised kinds by name
// so a newer writer's entries are not silently dropped.
func flatten(doc document) []Entry {
	entries := []Entry{}
	seen := make(map[addon.EventKind]bool, len(doc))
	for _, kind := range addon.EventKinds() {
		entries = append(entries, doc[kind]...)
		seen[kind] = true
	}

	var extra []addon.EventKind
	for kind := range doc {
		if !seen[kind] {
			extra = append(extra, kind)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, kind := range extra {
		entries = append(entries, doc[kind]...)
	}
	return entries
}
