package service

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/bep/debounce"
	"github.com/rs/zerolog/log"
)

const (
	minSearchLen     = 2
	searchTimeout    = 10 * time.Second
	DefaultSearchLag = 300 * time.Millisecond
)

// Searcher debounces people search: only the last query typed within the
// interval reaches the backend.
type Searcher struct {
	dir       port.UserDirectory
	self      func() domain.UserID
	debounced func(func())
	onResult  func(domain.SearchResult)

	mu  sync.Mutex
	seq uint64
}

func NewSearcher(dir port.UserDirectory, interval time.Duration, self func() domain.UserID, onResult func(domain.SearchResult)) *Searcher {
	if interval <= 0 {
		interval = DefaultSearchLag
	}
	return &Searcher{
		dir:       dir,
		self:      self,
		debounced: debounce.New(interval),
		onResult:  onResult,
	}
}

// Type records a keystroke. Queries shorter than two characters clear the
// results at once and cancel any pending search.
func (s *Searcher) Type(query string) {
	q := strings.TrimSpace(query)

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if utf8.RuneCountInString(q) < minSearchLen {
		s.debounced(func() {})
		s.deliver(seq, domain.SearchResult{Query: q, Users: []domain.UserSummary{}})
		return
	}
	s.debounced(func() { s.run(seq, q) })
}

func (s *Searcher) run(seq uint64, q string) {
	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	users, err := s.dir.SearchUsers(ctx, q)
	if err != nil {
		log.Error().Err(err).Str("query", q).Msg("Search failed")
		s.deliver(seq, domain.SearchResult{Query: q, Users: []domain.UserSummary{}, Err: err.Error()})
		return
	}

	var self domain.UserID
	if s.self != nil {
		self = s.self()
	}
	filtered := make([]domain.UserSummary, 0, len(users))
	for _, u := range users {
		if u.ID != self {
			filtered = append(filtered, u)
		}
	}
	s.deliver(seq, domain.SearchResult{Query: q, Users: filtered})
}

// deliver drops results overtaken by a newer keystroke.
func (s *Searcher) deliver(seq uint64, res domain.SearchResult) {
	s.mu.Lock()
	stale := seq != s.seq
	s.mu.Unlock()
	if stale || s.onResult == nil {
		return
	}
	s.onResult(res)
}
