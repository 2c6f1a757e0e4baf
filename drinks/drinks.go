// Package drinks defines the drink model, its public and detailed
// projections, and the Store contract implemented by the memory, redis and
// sqlite subpackages.
package drinks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxTitleLength bounds Drink.Title in characters.
const MaxTitleLength = 80

var (
	// ErrNotFound indicates no drink has the requested id.
	ErrNotFound = errors.New("drinks: not found")
	// ErrDuplicateTitle indicates another drink already uses the title.
	ErrDuplicateTitle = errors.New("drinks: duplicate title")
	// ErrInvalid indicates the drink failed validation.
	ErrInvalid = errors.New("drinks: invalid drink")
)

// Ingredient is one layer of a drink's recipe.
type Ingredient struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Parts int    `json:"parts"`
}

// Drink is the detailed representation, shown to callers holding
// get:drinks-detail.
type Drink struct {
	ID     int64        `json:"id"`
	Title  string       `json:"title"`
	Recipe []Ingredient `json:"recipe"`
}

// ShortIngredient omits the ingredient name.
type ShortIngredient struct {
	Color string `json:"color"`
	Parts int    `json:"parts"`
}

// ShortDrink is the public representation.
type ShortDrink struct {
	ID     int64             `json:"id"`
	Title  string            `json:"title"`
	Recipe []ShortIngredient `json:"recipe"`
}

// Short projects d onto its public representation.
func (d Drink) Short() ShortDrink {
	s := ShortDrink{ID: d.ID, Title: d.Title, Recipe: make([]ShortIngredient, 0, len(d.Recipe))}
	for _, in := range d.Recipe {
		s.Recipe = append(s.Recipe, ShortIngredient{Color: in.Color, Parts: in.Parts})
	}
	return s
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title  *string      `json:"title,omitempty"`
	Recipe []Ingredient `json:"recipe,omitempty"`
}

// Apply returns d with p's fields replaced.
func (p Patch) Apply(d Drink) Drink {
	if p.Title != nil {
		d.Title = strings.TrimSpace(*p.Title)
	}
	if p.Recipe != nil {
		d.Recipe = append([]Ingredient(nil), p.Recipe...)
	}
	return d
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool { return p.Title == nil && p.Recipe == nil }

// Normalize trims the title and ingredient fields in place.
func (d *Drink) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	for i := range d.Recipe {
		d.Recipe[i].Name = strings.TrimSpace(d.Recipe[i].Name)
		d.Recipe[i].Color = strings.TrimSpace(d.Recipe[i].Color)
	}
}

// Validate checks d's title and recipe. Errors wrap ErrInvalid.
func Validate(d Drink) error {
	if d.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if n := utf8.RuneCountInString(d.Title); n > MaxTitleLength {
		return fmt.Errorf("%w: title is %d characters, max %d", ErrInvalid, n, MaxTitleLength)
	}
	if len(d.Recipe) == 0 {
		return fmt.Errorf("%w: recipe needs at least one ingredient", ErrInvalid)
	}
	for i, in := range d.Recipe {
		if in.Name == "" {
			return fmt.Errorf("%w: ingredient %d has no name", ErrInvalid, i)
		}
		if in.Color == "" {
			return fmt.Errorf("%w: ingredient %d has no color", ErrInvalid, i)
		}
		if in.Parts < 1 {
			return fmt.Errorf("%w: ingredient %d needs at least one part", ErrInvalid, i)
		}
	}
	return nil
}

// Store persists drinks. Implementations are safe for concurrent use and
// enforce unique titles. List returns drinks ordered by id.
type Store interface {
	List(ctx context.Context) ([]Drink, error)
	Get(ctx context.Context, id int64) (Drink, error)
	Create(ctx context.Context, d Drink) (Drink, error)
	Update(ctx context.Context, id int64, p Patch) (Drink, error)
	Delete(ctx context.Context, id int64) error
	Close() error
}

// Sample is the drink seeded into an empty store on request.
func Sample() Drink {
	return Drink{
		Title:  "water",
		Recipe: []Ingredient{{Name: "water", Color: "blue", Parts: 1}},
	}
}

// Seed creates the sample drink if the store is empty.
func Seed(ctx context.Context, s Store) error {
	all, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(all) > 0 {
		return nil
	}
	_, err = s.Create(ctx, Sample())
	return err
}

// Prepare returns a normalized copy of d, or an error if it is invalid.
func Prepare(d Drink) (Drink, error) {
	d.Recipe = append([]Ingredient(nil), d.Recipe...)
	d.Normalize()
	if err := Validate(d); err != nil {
		return Drink{}, err
	}
	return d, nil
}
