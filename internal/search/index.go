// Package search provides the post search index consumed by the content
// pipeline's re-index trigger. Indexing internals are deliberately
// minimal: a concurrency-safe in-memory token index with deterministic
// Jaccard scoring. The pipeline itself only ever calls Upsert and Delete
// (via the search.reindex job); querying exists for the read side.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Document is an indexable unit (one post).
type Document struct {
	PostID   int64
	ThreadID int64
	Text     string
}

// Result is a ranked post with its similarity score.
type Result struct {
	PostID int64
	Score  float64
}

// Index is the minimal interface the pipeline depends on.
type Index interface {
	Upsert(doc Document)
	Delete(postIDs ...int64)
	TopK(query string, k int) []Result
}

var tokenRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

type entry struct {
	doc    Document
	tokens map[string]struct{}
}

// Memory is the default Index: a mutable, mutex-guarded token index.
type Memory struct {
	mu      sync.RWMutex
	entries map[int64]entry
}

// NewMemory returns an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[int64]entry)}
}

// Upsert adds or replaces a document.
func (m *Memory) Upsert(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[doc.PostID] = entry{doc: doc, tokens: tokenize(doc.Text)}
}

// Delete removes documents; unknown IDs are ignored.
func (m *Memory) Delete(postIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range postIDs {
		delete(m.entries, id)
	}
}

// Len reports the number of indexed documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// TopK returns up to k documents ranked by Jaccard similarity between
// the query token set and each document's token set. Ties break on
// ascending post ID so ordering is deterministic.
func (m *Memory) TopK(query string, k int) []Result {
	q := tokenize(query)
	if len(q) == 0 || k <= 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Result, 0, len(m.entries))
	for id, e := range m.entries {
		inter := 0
		for t := range q {
			if _, ok := e.tokens[t]; ok {
				inter++
			}
		}
		if inter == 0 {
			continue
		}
		union := len(q) + len(e.tokens) - inter
		out = append(out, Result{PostID: id, Score: float64(inter) / float64(union)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PostID < out[j].PostID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func tokenize(s string) map[string]struct{} {
	toks := tokenRE.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}
