package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// Entity is one record of the synthetic dump used by golden-path tests.
// The shape mirrors the production dump closely enough for the pipeline's
// staging tools: multilingual labels/aliases/descriptions plus type hints
// and a popularity signal.
type Entity struct {
	ID           string              `json:"id"`
	Labels       map[string]string   `json:"labels"`
	Aliases      map[string][]string `json:"aliases,omitempty"`
	Descriptions map[string]string   `json:"descriptions,omitempty"`
	CoarseType   string              `json:"coarse_type,omitempty"`
	FineType     string              `json:"fine_type,omitempty"`
	Popularity   float64             `json:"popularity,omitempty"`
}

// GoldenCorpus is the fixed three-record scenario: two entity records sharing
// the token "apple" and one lexeme record the extract stage must drop.
func GoldenCorpus() []Entity {
	return []Entity{
		{
			ID:           "Q312",
			Labels:       map[string]string{"en": "Apple Inc."},
			Aliases:      map[string][]string{"en": {"Apple"}},
			Descriptions: map[string]string{"en": "American technology company based in Cupertino."},
			CoarseType:   "ORGANIZATION",
			FineType:     "COMPANY",
			Popularity:   0.9,
		},
		{
			ID:           "Q89",
			Labels:       map[string]string{"en": "apple"},
			Aliases:      map[string][]string{"en": {"fruit"}},
			Descriptions: map[string]string{"en": "Edible fruit produced by an apple tree."},
			CoarseType:   "CONCEPT",
			FineType:     "FOOD",
			Popularity:   0.2,
		},
		{
			ID:           "L1",
			Labels:       map[string]string{"en": "ignored lexeme"},
			Descriptions: map[string]string{"en": "should be ignored"},
		},
	}
}

// WriteDump writes entities as a gzipped JSON-array dump (one record per
// line, bracketed, trailing commas) at path.
func WriteDump(t *testing.T, path string, entities []Entity) {
	t.Helper()

	file, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, file.Close()) }()

	zw := gzip.NewWriter(file)
	write := func(s string) {
		_, err := zw.Write([]byte(s))
		require.NoError(t, err)
	}

	write("[\n")
	for i, entity := range entities {
		line, err := json.Marshal(entity)
		require.NoError(t, err)
		suffix := ","
		if i == len(entities)-1 {
			suffix = ""
		}
		write(fmt.Sprintf("%s%s\n", line, suffix))
	}
	write("]\n")
	require.NoError(t, zw.Close())
}
