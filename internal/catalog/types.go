// Package catalog defines the listing catalog domain: categories, links,
// fetched records and the browser ports used to read them.
package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Category is an opaque catalog section token passed through to the browser.
type Category string

const (
	CategoryDwelling Category = "lagenhet"
	CategoryStorage  Category = "forrad"
	CategoryParking  Category = "parkering"
)

// Categories is the closed set of recognized categories.
var Categories = []Category{CategoryDwelling, CategoryStorage, CategoryParking}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Link is one candidate listing. ID is the canonical link and the
// deduplication key; URL is what the browser navigates to.
type Link struct {
	ID  string
	URL string
}

type Fact struct {
	Label string
	Value string
}

// Record is the fetched detail for one listing. Treat as immutable once
// handed to the cache; the cache owns Screenshot afterwards.
type Record struct {
	Name       string
	Facts      []Fact
	Link       string
	Screenshot []byte
}

// Session is one live rendering engine instance.
type Session interface {
	Name() string
}

// Browser reads the catalog through a live Session.
type Browser interface {
	ListObjects(ctx context.Context, s Session, c Category) ([]Link, error)
	FetchDetail(ctx context.Context, s Session, l Link) (Record, error)
}

// SessionFactory creates and destroys Sessions.
type SessionFactory interface {
	CreateSession(ctx context.Context) (Session, error)
	CloseSession(ctx context.Context, s Session) error
}
