// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sigil-dev/warden/internal/store"
	wardenerr "github.com/sigil-dev/warden/pkg/errors"
)

const (
	searchPageSize     = 100
	searchSnippetRunes = 80
	searchSnippetLead  = 20
)

// Where a SearchHit matched.
const (
	MatchTitle   = "title"
	MatchContent = "content"
)

// SearchHit is one session matching a Search query.
type SearchHit struct {
	Session *store.Session
	Match   string
	// Snippet is the matching message text around the query. Empty for
	// title matches.
	Snippet string
}

// Search returns the sessions whose title or message text contains query,
// ignoring case, in List order. A title match wins over a content match.
// limit <= 0 returns every hit.
func (m *SessionManager) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, wardenerr.New(wardenerr.CodeStoreInvalidInput, "search query is required")
	}

	var hits []SearchHit
	for offset := 0; ; offset += searchPageSize {
		sessions, err := m.ss.ListSessions(ctx, store.ListOpts{Limit: searchPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			hit, ok, err := m.match(ctx, s, needle)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			hits = append(hits, hit)
			if limit > 0 && len(hits) >= limit {
				return hits, nil
			}
		}
		if len(sessions) < searchPageSize {
			return hits, nil
		}
	}
}

func (m *SessionManager) match(ctx context.Context, s *store.Session, needle string) (SearchHit, bool, error) {
	if strings.Contains(strings.ToLower(s.Title), needle) {
		return SearchHit{Session: s, Match: MatchTitle}, true, nil
	}
	msgs, err := m.ss.GetActiveWindow(ctx, s.ID, 0)
	if err != nil {
		return SearchHit{}, false, err
	}
	for _, msg := range msgs {
		text := msg.Text()
		if snippet, ok := snippetAround(text, needle); ok {
			return SearchHit{Session: s, Match: MatchContent, Snippet: snippet}, true, nil
		}
	}
	return SearchHit{}, false, nil
}

// snippetAround returns up to searchSnippetRunes runes of text starting a
// little before the first case-insensitive occurrence of needle.
func snippetAround(text, needle string) (string, bool) {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, needle)
	if idx < 0 {
		return "", false
	}
	runes := []rune(text)
	start := 0
	// Lowering can shift byte offsets; the snippet then starts at the top.
	if len(lower) == len(text) {
		start = max(utf8.RuneCountInString(text[:idx])-searchSnippetLead, 0)
	}
	end := min(start+searchSnippetRunes, len(runes))
	snippet := strings.Join(strings.Fields(string(runes[start:end])), " ")
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet, true
}

// Transcript is a stored session with its full history, as exported.
type Transcript struct {
	Session  *store.Session   `json:"session"`
	Messages []*store.Message `json:"messages"`
}

// Export loads a session record and every stored message, including those a
// HistoryPolicy dropped from the live window.
func (m *SessionManager) Export(ctx context.Context, id string) (*Transcript, error) {
	rec, err := m.ss.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := m.ss.GetActiveWindow(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	return &Transcript{Session: rec, Messages: msgs}, nil
}
