// Package drinkstest is a conformance suite for drinks.Store implementations.
package drinkstest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/drinkshop/drinks"
)

// StoreFactory creates an empty Store for a single test.
type StoreFactory func(t *testing.T) drinks.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("Create_AssignsIncreasingIDs", func(t *testing.T) { testCreateAssignsIDs(t, factory) })
	t.Run("Create_NormalizesAndValidates", func(t *testing.T) { testCreateValidates(t, factory) })
	t.Run("Create_DuplicateTitle", func(t *testing.T) { testCreateDuplicateTitle(t, factory) })
	t.Run("Get_NotFound", func(t *testing.T) { testGetNotFound(t, factory) })
	t.Run("List_OrderedByID", func(t *testing.T) { testListOrdered(t, factory) })
	t.Run("Update_Partial", func(t *testing.T) { testUpdatePartial(t, factory) })
	t.Run("Update_NotFound", func(t *testing.T) { testUpdateNotFound(t, factory) })
	t.Run("Update_DuplicateTitle", func(t *testing.T) { testUpdateDuplicateTitle(t, factory) })
	t.Run("Update_Invalid", func(t *testing.T) { testUpdateInvalid(t, factory) })
	t.Run("Delete_RemovesAndFreesTitle", func(t *testing.T) { testDelete(t, factory) })
	t.Run("Delete_NotFound", func(t *testing.T) { testDeleteNotFound(t, factory) })
	t.Run("Concurrent_UniqueTitles", func(t *testing.T) { testConcurrentUniqueTitles(t, factory) })
	t.Run("Concurrent_DisjointPatches", func(t *testing.T) { testConcurrentDisjointPatches(t, factory) })
	t.Run("Seed_OnlyWhenEmpty", func(t *testing.T) { testSeed(t, factory) })
}

func drink(title string) drinks.Drink {
	return drinks.Drink{
		Title: title,
		Recipe: []drinks.Ingredient{
			{Name: "espresso", Color: "brown", Parts: 1},
			{Name: "milk", Color: "white", Parts: 3},
		},
	}
}

func mustCreate(t *testing.T, s drinks.Store, d drinks.Drink) drinks.Drink {
	t.Helper()
	created, err := s.Create(context.Background(), d)
	if err != nil {
		t.Fatalf("create %q: %v", d.Title, err)
	}
	return created
}

func testCreateAssignsIDs(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	a := mustCreate(t, s, drink("latte"))
	b := mustCreate(t, s, drink("flat white"))
	if a.ID <= 0 || b.ID <= a.ID {
		t.Fatalf("ids should be positive and increasing, got %d then %d", a.ID, b.ID)
	}
	got, err := s.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "latte" || len(got.Recipe) != 2 || got.Recipe[1].Name != "milk" || got.Recipe[1].Parts != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func testCreateValidates(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	d := drink("  cortado  ")
	created := mustCreate(t, s, d)
	if created.Title != "cortado" {
		t.Fatalf("title should be trimmed, got %q", created.Title)
	}

	bad := []drinks.Drink{
		{Title: "", Recipe: drink("x").Recipe},
		{Title: strings.Repeat("a", drinks.MaxTitleLength+1), Recipe: drink("x").Recipe},
		{Title: "no recipe"},
		{Title: "zero parts", Recipe: []drinks.Ingredient{{Name: "n", Color: "c", Parts: 0}}},
	}
	for _, d := range bad {
		if _, err := s.Create(ctx, d); !errors.Is(err, drinks.ErrInvalid) {
			t.Fatalf("create %q: want ErrInvalid, got %v", d.Title, err)
		}
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("invalid drinks must not be stored, have %d", len(all))
	}
}

func testCreateDuplicateTitle(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mustCreate(t, s, drink("mocha"))
	if _, err := s.Create(context.Background(), drink("mocha")); !errors.Is(err, drinks.ErrDuplicateTitle) {
		t.Fatalf("want ErrDuplicateTitle, got %v", err)
	}
}

func testGetNotFound(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if _, err := s.Get(context.Background(), 4242); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func testListOrdered(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	empty, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("new store should be empty, got %d", len(empty))
	}
	for i := 0; i < 12; i++ {
		mustCreate(t, s, drink(fmt.Sprintf("drink-%02d", i)))
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 12 {
		t.Fatalf("want 12 drinks, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("list not ordered by id: %d before %d", all[i-1].ID, all[i].ID)
		}
	}
}

func testUpdatePartial(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	d := mustCreate(t, s, drink("americano"))

	title := "long black"
	got, err := s.Update(ctx, d.ID, drinks.Patch{Title: &title})
	if err != nil {
		t.Fatalf("update title: %v", err)
	}
	if got.Title != "long black" || len(got.Recipe) != 2 {
		t.Fatalf("title-only patch changed the recipe: %+v", got)
	}

	recipe := []drinks.Ingredient{{Name: "water", Color: "clear", Parts: 2}}
	got, err = s.Update(ctx, d.ID, drinks.Patch{Recipe: recipe})
	if err != nil {
		t.Fatalf("update recipe: %v", err)
	}
	if got.Title != "long black" || len(got.Recipe) != 1 || got.Recipe[0].Name != "water" {
		t.Fatalf("recipe-only patch result: %+v", got)
	}

	stored, err := s.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Title != got.Title || len(stored.Recipe) != 1 {
		t.Fatalf("update not persisted: %+v", stored)
	}

	// Renaming to the current title is not a conflict.
	if _, err := s.Update(ctx, d.ID, drinks.Patch{Title: &title}); err != nil {
		t.Fatalf("same title: %v", err)
	}
}

func testUpdateNotFound(t *testing.T, factory StoreFactory) {
	s := factory(t)
	title := "ghost"
	if _, err := s.Update(context.Background(), 999, drinks.Patch{Title: &title}); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func testUpdateDuplicateTitle(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	mustCreate(t, s, drink("macchiato"))
	b := mustCreate(t, s, drink("piccolo"))

	title := "macchiato"
	if _, err := s.Update(ctx, b.ID, drinks.Patch{Title: &title}); !errors.Is(err, drinks.ErrDuplicateTitle) {
		t.Fatalf("want ErrDuplicateTitle, got %v", err)
	}
	got, err := s.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "piccolo" {
		t.Fatalf("failed update must not change the drink: %+v", got)
	}
}

func testUpdateInvalid(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	d := mustCreate(t, s, drink("affogato"))

	empty := "   "
	if _, err := s.Update(ctx, d.ID, drinks.Patch{Title: &empty}); !errors.Is(err, drinks.ErrInvalid) {
		t.Fatalf("want ErrInvalid for blank title, got %v", err)
	}
	if _, err := s.Update(ctx, d.ID, drinks.Patch{Recipe: []drinks.Ingredient{}}); !errors.Is(err, drinks.ErrInvalid) {
		t.Fatalf("want ErrInvalid for empty recipe, got %v", err)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	d := mustCreate(t, s, drink("ristretto"))

	if err := s.Delete(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, d.ID); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("deleted drink still readable: %v", err)
	}
	again := mustCreate(t, s, drink("ristretto"))
	if again.ID == d.ID {
		t.Fatalf("ids should not be reused, got %d twice", d.ID)
	}
}

func testDeleteNotFound(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if err := s.Delete(context.Background(), 31337); !errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func testConcurrentUniqueTitles(t *testing.T, factory StoreFactory) {
	s := factory(t)
	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(context.Background(), drink("espresso"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, drinks.ErrDuplicateTitle):
				dupes++
			default:
				t.Errorf("create: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || dupes != n-1 {
		t.Fatalf("want exactly one winner, got created=%d dupes=%d", created, dupes)
	}
}

// Patches touching different fields of the same drink must both survive.
func testConcurrentDisjointPatches(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		d := mustCreate(t, s, drink(fmt.Sprintf("americano-%d", round)))
		title := fmt.Sprintf("long black-%d", round)
		recipe := []drinks.Ingredient{{Name: "water", Color: "clear", Parts: 2}}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Update(ctx, d.ID, drinks.Patch{Title: &title}); err != nil {
				t.Errorf("patch title: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Update(ctx, d.ID, drinks.Patch{Recipe: recipe}); err != nil {
				t.Errorf("patch recipe: %v", err)
			}
		}()
		wg.Wait()

		got, err := s.Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != title {
			t.Fatalf("round %d: title patch lost, got %q", round, got.Title)
		}
		if len(got.Recipe) != 1 || got.Recipe[0].Name != "water" {
			t.Fatalf("round %d: recipe patch lost, got %+v", round, got.Recipe)
		}
	}
}

func testSeed(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	if err := drinks.Seed(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := drinks.Seed(ctx, s); err != nil {
		t.Fatalf("seed again: %v", err)
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Title != drinks.Sample().Title {
		t.Fatalf("want just the sample drink, got %+v", all)
	}
}
