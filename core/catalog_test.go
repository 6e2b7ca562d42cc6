package core

import (
	"sync"
	"testing"
)

func TestCatalogStates(t *testing.T) {
	c := NewCatalog("seeded")

	if available, known := c.Lookup("seeded"); !known || !available {
		t.Fatalf("seeded model: available=%v known=%v", available, known)
	}
	if _, known := c.Lookup("never-tried"); known {
		t.Fatal("untried model must be absent, not inferred")
	}

	c.Set("bad", false)
	if available, known := c.Lookup("bad"); !known || available {
		t.Fatalf("verified-unavailable: available=%v known=%v", available, known)
	}

	c.Remove("bad")
	if _, known := c.Lookup("bad"); known {
		t.Fatal("Remove must return the model to untried")
	}
}

func TestCatalogReplace(t *testing.T) {
	c := NewCatalog("old")
	c.Replace([]string{"a", "b"})
	if _, known := c.Lookup("old"); known {
		t.Fatal("Replace kept a stale entry")
	}
	models := c.Models()
	if len(models) != 2 {
		t.Fatalf("unexpected models: %v", models)
	}
}

func TestCatalogConcurrentWrites(t *testing.T) {
	c := NewCatalog()
	var wg sync.WaitGroup
	names := []string{"m1", "m2", "m3", "m4"}
	for _, name := range names {
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(name string, available bool) {
				defer wg.Done()
				c.Set(name, available)
				// Readers must always see a complete snapshot.
				_ = c.Snapshot()
			}(name, i%2 == 0)
		}
	}
	wg.Wait()
	for _, name := range names {
		if _, known := c.Lookup(name); !known {
			t.Fatalf("entry for %s lost", name)
		}
	}
}
