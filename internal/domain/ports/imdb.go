package ports

import (
	"context"
)

// TitleSearchResult is one candidate from a title lookup.
type TitleSearchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Year  string `json:"year"`
	Kind  string `json:"kind"`
}

// TitleDetails is the enriched record used to seed a campaign world from
// an existing film or show.
type TitleDetails struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Year     string   `json:"year"`
	Plot     string   `json:"plot"`
	Genres   []string `json:"genres"`
	Cast     []string `json:"cast"`
	Keywords []string `json:"keywords"`
}

// IMDBLookupPort resolves media titles for campaign bootstrapping. Only
// the surface is defined here; setup wizards consuming it live outside
// the core.
type IMDBLookupPort interface {
	Search(ctx context.Context, query string, limit int) ([]TitleSearchResult, error)
	FetchDetails(ctx context.Context, id string) (*TitleDetails, error)
}
