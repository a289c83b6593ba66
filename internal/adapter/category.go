package adapter

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sells-group/directory-cli/internal/model"
)

// Category is one directory category an entity can be filed under.
type Category struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Taxonomy lists the allowed categories per entity type.
type Taxonomy map[model.EntityType][]Category

// DefaultTaxonomy returns the built-in category list.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		model.EntityRestaurant: {
			{"italian", "Italian"}, {"mexican", "Mexican"}, {"japanese", "Japanese"}, {"chinese", "Chinese"},
			{"indian", "Indian"}, {"thai", "Thai"}, {"american", "American"}, {"seafood", "Seafood"},
			{"steakhouse", "Steakhouse"}, {"vegetarian", "Vegetarian"}, {"cafe", "Cafe"}, {"bakery", "Bakery"},
			{"bar", "Bar & Pub"}, {"fine-dining", "Fine Dining"}, {"fast-food", "Fast Food"}, {"brunch", "Brunch"},
		},
		model.EntityHotel: {
			{"luxury", "Luxury"}, {"boutique", "Boutique"}, {"budget", "Budget"}, {"resort", "Resort"},
			{"business", "Business"}, {"family", "Family Friendly"}, {"pet-friendly", "Pet Friendly"},
			{"bed-and-breakfast", "Bed & Breakfast"},
		},
		model.EntityMall: {
			{"shopping-center", "Shopping Center"}, {"outlet", "Outlet"}, {"department-store", "Department Store"},
			{"market", "Market"}, {"lifestyle-center", "Lifestyle Center"},
		},
		model.EntityAttraction: {
			{"museum", "Museum"}, {"park", "Park"}, {"zoo-aquarium", "Zoo & Aquarium"}, {"landmark", "Landmark"},
			{"theme-park", "Theme Park"}, {"gallery", "Gallery"}, {"tour", "Tour"}, {"historic-site", "Historic Site"},
		},
		model.EntityFitnessCenter: {
			{"gym", "Gym"}, {"yoga", "Yoga"}, {"pilates", "Pilates"}, {"crossfit", "CrossFit"},
			{"martial-arts", "Martial Arts"}, {"swimming", "Swimming"}, {"climbing", "Climbing"},
		},
		model.EntitySchool: {
			{"preschool", "Preschool"}, {"elementary", "Elementary"}, {"middle", "Middle School"},
			{"high", "High School"}, {"private", "Private"}, {"public", "Public"}, {"charter", "Charter"},
			{"international", "International"}, {"language", "Language School"},
		},
	}
}

const categorySystem = `You file local listings into a fixed category list.
Choose only ids from the list you are given. If something important is missing from the
list, name it under "suggestions" instead of inventing an id.
Reply with a single JSON object and nothing else:
{"category_ids": [<1-3 ids>], "suggestions": [<0-3 new category names>]}`

// CategoryMatching files the entity into known categories with Claude.
// Ids outside the taxonomy are dropped; new category names are kept as a
// suggestions artifact for editors.
type CategoryMatching struct {
	ai       *aiCaller
	Taxonomy Taxonomy
}

type categoryReply struct {
	CategoryIDs []string `json:"category_ids"`
	Suggestions []string `json:"suggestions"`
}

// Applicable implements Conditional.
func (c *CategoryMatching) Applicable(jc model.JobContext) bool {
	return c.ai.configured() && len(c.Taxonomy[jc.Entity.Type]) > 0
}

// Execute implements Adapter.
func (c *CategoryMatching) Execute(ctx context.Context, jc model.JobContext) (*model.PartialUpdate, model.StepMetrics, error) {
	start := time.Now()
	cats := c.Taxonomy[jc.Entity.Type]
	f := jc.Entity.Fields

	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, cat := range cats {
		fmt.Fprintf(&b, "- %s: %s\n", cat.ID, cat.Name)
	}
	fmt.Fprintf(&b, "\nListing: %s (%s)\n", f.Name, jc.Entity.Type)
	if len(f.ProviderTypes) > 0 {
		fmt.Fprintf(&b, "Provider types: %s\n", strings.Join(f.ProviderTypes, ", "))
	}
	if f.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", f.Summary)
	}
	if f.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", truncate(f.Description, 3000))
	} else if w := jc.Artifact(model.ArtifactWebContent); w != "" {
		fmt.Fprintf(&b, "Website excerpt: %s\n", truncate(w, 3000))
	}

	var reply categoryReply
	metrics, err := c.ai.call(ctx, jc.Step, categorySystem, b.String(), &reply)
	if err != nil {
		return nil, metrics, err
	}

	ids := make([]string, 0, len(reply.CategoryIDs))
	for _, id := range reply.CategoryIDs {
		id = strings.ToLower(strings.TrimSpace(id))
		known := slices.ContainsFunc(cats, func(cat Category) bool { return cat.ID == id })
		if known && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	u := &model.PartialUpdate{CategoryIDs: ids}
	if s := trimList(reply.Suggestions, 3); len(s) > 0 {
		u.Artifacts = map[string]string{model.ArtifactSuggestions: strings.Join(s, "\n")}
	}
	metrics.Items = len(ids)
	metrics.Fields = len(u.Keys())
	metrics.ElapsedMs = elapsedMs(start)
	return u, metrics, nil
}
