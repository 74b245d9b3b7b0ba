package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/switchboard/internal/llm"
)

// Categories is the routing vocabulary. Classification maps a free-text
// query onto one or more of these labels; agents register against the same
// labels, so adding a category is registry data plus one entry here, never a
// dispatcher change.
var Categories = []string{
	// Accommodation
	"Hotel",
	"Motel",
	"Bed & Breakfast",
	"Resort Hotel",
	"Vacation Rental Agency",
	// Real estate & housing
	"Real Estate",
	"Real Estate Agency",
	"Apartment Complex",
	// Food & drink
	"Restaurant",
	"Cafe",
	"Bar",
	"Bakery",
	// Retail
	"Grocery Store",
	"Clothing Store",
	"Electronics Store",
	"Book Store",
	// Services
	"Travel Agency",
	"Insurance Agency",
	"Legal Services",
	"Financial Services",
	"Medical Clinic",
	"Dental Clinic",
	"Veterinary Care",
	"Car Repair",
	"Hair Salon",
	// Entertainment & culture
	"Movie",
	"Music",
	"Museum",
	"Theater",
	"Sports Club",
	"Gym",
	// Education & tech
	"School",
	"University",
	"Software Company",
	"IT Services",
	// General
	"News",
	"Weather",
	"General Knowledge",
}

// Prediction is the classifier collaborator's output: the matched categories
// and the JSON shape the agents are expected to answer in.
type Prediction struct {
	Categories      []string `json:"categories"`
	OutputStructure string   `json:"output_structure"`
	Reasoning       string   `json:"reasoning"`
}

// Classifier adapts the LLM provider into the category-labelling collaborator.
type Classifier struct {
	Provider   llm.Provider
	Categories []string
}

func New(provider llm.Provider) *Classifier {
	return &Classifier{Provider: provider, Categories: Categories}
}

// Classify labels the query. There is no safe default category, so any
// provider failure or empty prediction is an error the pipeline treats as
// fatal.
func (c *Classifier) Classify(ctx context.Context, query string) (Prediction, error) {
	prompt := fmt.Sprintf(`Classify this query into one or more of the allowed categories.

Query: %q

Allowed categories: %s

Respond with a JSON object: {"categories": ["..."], "output_structure": "<JSON schema string for the expected agent output>", "reasoning": "..."}`,
		query, strings.Join(c.Categories, ", "))

	var pred Prediction
	if err := c.Provider.CompleteStructured(ctx, prompt, &pred); err != nil {
		return Prediction{}, fmt.Errorf("classification failed: %w", err)
	}
	pred.Categories = c.filterKnown(pred.Categories)
	if len(pred.Categories) == 0 {
		return Prediction{}, fmt.Errorf("classifier produced no usable category")
	}
	return pred, nil
}

func (c *Classifier) filterKnown(labels []string) []string {
	known := make(map[string]string, len(c.Categories))
	for _, cat := range c.Categories {
		known[strings.ToLower(cat)] = cat
	}
	var out []string
	seen := make(map[string]bool)
	for _, l := range labels {
		if cat, ok := known[strings.ToLower(strings.TrimSpace(l))]; ok && !seen[cat] {
			out = append(out, cat)
			seen[cat] = true
		}
	}
	return out
}
