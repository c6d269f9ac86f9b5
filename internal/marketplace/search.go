// Package marketplace provides listing search. The current backend is
// a fixture-backed mock; real marketplace scraping sits behind the same
// interface when it lands.
package marketplace

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed mock_listings.json
var fixtures embed.FS

// Result is one search hit in marketplace-native shape, before it is
// imported into a session as a Listing.
type Result struct {
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Price       float64        `json:"price"`
	Currency    string         `json:"currency"`
	Marketplace string         `json:"marketplace"`
	Category    string         `json:"category"`
	Metadata    map[string]any `json:"metadata"`
	Description string         `json:"description"`
}

// Searcher finds listings matching a free-text query.
type Searcher interface {
	Search(ctx context.Context, query, category string) ([]Result, error)
}

// MockSearcher serves canned results from the embedded fixture,
// filtered by case-insensitive title substring and optional category.
type MockSearcher struct {
	results []Result
}

func NewMockSearcher() (*MockSearcher, error) {
	data, err := fixtures.ReadFile("mock_listings.json")
	if err != nil {
		return nil, fmt.Errorf("read listing fixtures: %w", err)
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("parse listing fixtures: %w", err)
	}
	return &MockSearcher{results: results}, nil
}

func (m *MockSearcher) Search(ctx context.Context, query, category string) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		if category != "" && !strings.EqualFold(r.Category, category) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(r.Title), query) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
