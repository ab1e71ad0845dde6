package testutil

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	tokenRe = regexp.MustCompile(`[\pL\pN]+`)
	pathRe  = regexp.MustCompile(`^/indexes/([^/]+)/(stats|search|ingest)$`)
)

// Doc is one indexed document in the fake serving endpoint.
type Doc struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	NameText   string  `json:"name_text"`
	Bow        string  `json:"bow"`
	CoarseType string  `json:"coarse_type,omitempty"`
	FineType   string  `json:"fine_type,omitempty"`
	Popularity float64 `json:"popularity"`
}

// ServingEndpoint is an in-memory stand-in for the serving component. It
// implements the health, index-statistics, search, and NDJSON ingest routes
// with deterministic token-match ranking, so golden-path outcomes reproduce
// bit-for-bit across runs.
type ServingEndpoint struct {
	Server *httptest.Server

	mu      sync.Mutex
	healthy bool
	indexes map[string][]Doc
}

// NewServingEndpoint starts a healthy endpoint with no indexes. Callers own
// Close (usually via t.Cleanup).
func NewServingEndpoint() *ServingEndpoint {
	e := &ServingEndpoint{healthy: true, indexes: map[string][]Doc{}}
	e.Server = httptest.NewServer(http.HandlerFunc(e.handle))
	return e
}

// URL returns the endpoint's base URL.
func (e *ServingEndpoint) URL() string { return e.Server.URL }

// Close shuts the endpoint down.
func (e *ServingEndpoint) Close() { e.Server.Close() }

// SetHealthy toggles the health endpoint between 200 and 503.
func (e *ServingEndpoint) SetHealthy(healthy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = healthy
}

// Ingest adds documents to the named index, creating it if needed.
func (e *ServingEndpoint) Ingest(indexID string, docs ...Doc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexes[indexID] = append(e.indexes[indexID], docs...)
}

// Docs returns a copy of an index's documents.
func (e *ServingEndpoint) Docs(indexID string) []Doc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Doc(nil), e.indexes[indexID]...)
}

func (e *ServingEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" {
		e.mu.Lock()
		healthy := e.healthy
		e.mu.Unlock()
		if !healthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	m := pathRe.FindStringSubmatch(r.URL.Path)
	if m == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown route"})
		return
	}
	indexID, action := m[1], m[2]

	switch action {
	case "ingest":
		e.handleIngest(w, r, indexID)
	case "stats":
		e.handleStats(w, indexID)
	case "search":
		e.handleSearch(w, r, indexID)
	}
}

func (e *ServingEndpoint) handleIngest(w http.ResponseWriter, r *http.Request, indexID string) {
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var docs []Doc
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var doc Doc
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("bad NDJSON line: %v", err)})
			return
		}
		docs = append(docs, doc)
	}
	e.Ingest(indexID, docs...)
	writeJSON(w, http.StatusOK, map[string]int{"ingested": len(docs)})
}

func (e *ServingEndpoint) handleStats(w http.ResponseWriter, indexID string) {
	e.mu.Lock()
	docs, ok := e.indexes[indexID]
	e.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "index not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index_id": indexID, "doc_count": len(docs)})
}

func (e *ServingEndpoint) handleSearch(w http.ResponseWriter, r *http.Request, indexID string) {
	var req struct {
		Query       string   `json:"query"`
		CoarseTypes []string `json:"coarse_types"`
		FineTypes   []string `json:"fine_types"`
		MaxHits     int      `json:"max_hits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad search request"})
		return
	}
	if req.MaxHits <= 0 {
		req.MaxHits = 20
	}

	e.mu.Lock()
	docs, ok := e.indexes[indexID]
	e.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "index not found"})
		return
	}

	terms := Tokenize(req.Query)
	type scored struct {
		doc   Doc
		score float64
	}
	var matches []scored
	for _, doc := range docs {
		docTerms := map[string]bool{}
		for _, tok := range Tokenize(doc.NameText + " " + doc.Bow) {
			docTerms[tok] = true
		}
		matched := 0
		for _, term := range terms {
			if docTerms[term] {
				matched++
			}
		}
		if len(terms) > 0 && matched < len(terms) {
			continue
		}
		if len(req.CoarseTypes) > 0 && !contains(req.CoarseTypes, doc.CoarseType) {
			continue
		}
		if len(req.FineTypes) > 0 && !contains(req.FineTypes, doc.FineType) {
			continue
		}
		// Popularity is below 1.0, so term matches dominate and popularity
		// breaks ties deterministically.
		matches = append(matches, scored{doc: doc, score: float64(matched) + doc.Popularity})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].doc.ID < matches[j].doc.ID
	})

	hits := make([]map[string]any, 0, len(matches))
	for i, m := range matches {
		if i >= req.MaxHits {
			break
		}
		hits = append(hits, map[string]any{
			"id":          m.doc.ID,
			"label":       m.doc.Label,
			"coarse_type": m.doc.CoarseType,
			"fine_type":   m.doc.FineType,
			"score":       m.score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"num_hits": len(matches), "hits": hits})
}

// Tokenize lowercases text and splits it into letter/digit runs.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
