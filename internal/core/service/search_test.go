package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
)

type fakeDirectory struct {
	mu      sync.Mutex
	queries []string
	users   []domain.UserSummary
	gate    chan struct{}
	started chan string
}

func (d *fakeDirectory) SearchUsers(ctx context.Context, query string) ([]domain.UserSummary, error) {
	d.mu.Lock()
	d.queries = append(d.queries, query)
	gate, started := d.gate, d.started
	d.mu.Unlock()
	if started != nil {
		started <- query
	}
	if gate != nil {
		<-gate
	}
	return d.users, nil
}

func (d *fakeDirectory) Queries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}

func nextResult(t *testing.T, ch <-chan domain.SearchResult) domain.SearchResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no search result")
		return domain.SearchResult{}
	}
}

func TestSearcherDebouncesKeystrokes(t *testing.T) {
	dir := &fakeDirectory{users: []domain.UserSummary{{ID: "u1", Name: "Me"}, {ID: "u2", Name: "Arjun"}}}
	results := make(chan domain.SearchResult, 8)
	s := NewSearcher(dir, 30*time.Millisecond, func() domain.UserID { return "u1" }, func(r domain.SearchResult) { results <- r })

	s.Type("a")
	if r := nextResult(t, results); r.Query != "a" || len(r.Users) != 0 {
		t.Errorf("short query result = %+v, want empty", r)
	}

	s.Type("ar")
	s.Type("arj")
	s.Type("  arju  ")

	r := nextResult(t, results)
	if r.Query != "arju" {
		t.Errorf("query = %q, want arju", r.Query)
	}
	if len(r.Users) != 1 || r.Users[0].ID != "u2" {
		t.Errorf("users = %+v, want only u2 (self filtered)", r.Users)
	}
	if got := dir.Queries(); len(got) != 1 || got[0] != "arju" {
		t.Errorf("backend queried %v, want [arju]", got)
	}
}

func TestSearcherShortQueryCancelsPending(t *testing.T) {
	dir := &fakeDirectory{}
	results := make(chan domain.SearchResult, 8)
	s := NewSearcher(dir, 30*time.Millisecond, nil, func(r domain.SearchResult) { results <- r })

	s.Type("arj")
	s.Type("")

	if r := nextResult(t, results); r.Query != "" || len(r.Users) != 0 {
		t.Errorf("result = %+v, want empty", r)
	}
	time.Sleep(80 * time.Millisecond)
	if got := dir.Queries(); len(got) != 0 {
		t.Errorf("backend queried %v after clearing", got)
	}
}

func TestSearcherDropsStaleResults(t *testing.T) {
	dir := &fakeDirectory{
		users:   []domain.UserSummary{{ID: "u2"}},
		gate:    make(chan struct{}),
		started: make(chan string, 1),
	}
	results := make(chan domain.SearchResult, 8)
	s := NewSearcher(dir, 10*time.Millisecond, nil, func(r domain.SearchResult) { results <- r })

	s.Type("arj")
	<-dir.started
	s.Type("x")
	if r := nextResult(t, results); r.Query != "x" {
		t.Fatalf("result = %+v, want the cleared query", r)
	}

	close(dir.gate)
	select {
	case r := <-results:
		t.Errorf("stale result delivered: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}
