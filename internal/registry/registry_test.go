package registry

import (
	"context"
	"testing"
)

func TestStaticRegistryVisibility(t *testing.T) {
	private := Descriptor{ID: "mymovies", URL: "https://m.example.com", OwnerID: "user-a", Visibility: "private", Categories: []string{"Movie"}}
	public := Descriptor{ID: "cinebot", URL: "https://c.example.com", OwnerID: "user-b", Visibility: "public", Categories: []string{"Movie"}}
	reg := NewStaticRegistry(private, public)

	// Owner sees both.
	got, err := reg.Find(context.Background(), "Movie", "user-a")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 2 || got[0].ID != "cinebot" || got[1].ID != "mymovies" {
		t.Fatalf("owner lookup: %+v", got)
	}

	// Any other caller sees only the public agent.
	got, err = reg.Find(context.Background(), "Movie", "user-z")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0].ID != "cinebot" {
		t.Fatalf("stranger lookup: %+v", got)
	}
}

func TestStaticRegistryCategoryMatch(t *testing.T) {
	reg := NewStaticRegistry(
		Descriptor{ID: "cinebot", Visibility: "public", Categories: []string{"Movie", "Music"}},
		Descriptor{ID: "hotelbot", Visibility: "public", Categories: []string{"Hotel"}},
	)

	got, err := reg.Find(context.Background(), "Music", "anyone")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0].ID != "cinebot" {
		t.Fatalf("category lookup: %+v", got)
	}

	// Unknown category is a valid empty result, not an error.
	got, err = reg.Find(context.Background(), "Plumbing", "anyone")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}
}

func TestDirectorySearch(t *testing.T) {
	dir, err := NewDirectory()
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if err := dir.Index(Descriptor{ID: "cinebot", Name: "CineBot", Description: "recommendations for movies and cinema", Visibility: "public", Categories: []string{"Movie"}}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := dir.Index(Descriptor{ID: "hotelbot", Name: "HotelBot", Description: "hotel room availability", Visibility: "public", Categories: []string{"Hotel"}}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	// Private agents must never surface in the public directory.
	if err := dir.Index(Descriptor{ID: "secret", Name: "Secret cinema agent", Description: "cinema", Visibility: "private", Categories: []string{"Movie"}}); err != nil {
		t.Fatalf("Index private: %v", err)
	}

	hits, err := dir.Search("cinema", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "cinebot" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestDirectoryRebuildAndRemove(t *testing.T) {
	dir, err := NewDirectory()
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	if err := dir.Rebuild([]Descriptor{
		{ID: "A1", Name: "Alpha", Description: "alpha agent", Visibility: "public", Categories: []string{"Misc"}},
		{ID: "B2", Name: "Beta", Description: "beta agent", Visibility: "public", Categories: []string{"Misc"}},
	}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	hits, err := dir.Search("beta", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "B2" {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	if err := dir.Remove("b2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	hits, err = dir.Search("beta", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits after removal, got %+v", hits)
	}
}
