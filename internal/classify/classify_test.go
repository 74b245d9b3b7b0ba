package classify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeProvider struct {
	structured string
	err        error
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return f.structured, f.err
}

func (f *fakeProvider) CompleteStructured(ctx context.Context, prompt string, into interface{}) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.structured), into)
}

func TestClassifyFiltersUnknownCategories(t *testing.T) {
	c := New(&fakeProvider{structured: `{"categories":["movie","Flying Carpets","MOVIE","Music"],"output_structure":"{}","reasoning":"r"}`})

	pred, err := c.Classify(context.Background(), "best sci-fi movies of 2023")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(pred.Categories) != 2 || pred.Categories[0] != "Movie" || pred.Categories[1] != "Music" {
		t.Fatalf("unexpected categories: %+v", pred.Categories)
	}
}

func TestClassifyProviderFailureIsFatal(t *testing.T) {
	c := New(&fakeProvider{err: errors.New("upstream down")})
	if _, err := c.Classify(context.Background(), "anything"); err == nil {
		t.Fatal("expected error when provider fails")
	}
}

func TestClassifyNoUsableCategory(t *testing.T) {
	c := New(&fakeProvider{structured: `{"categories":["Flying Carpets"],"output_structure":"{}"}`})
	if _, err := c.Classify(context.Background(), "anything"); err == nil {
		t.Fatal("expected error when no allowed category matched")
	}
}
