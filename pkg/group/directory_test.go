package group

import (
	"context"
	"testing"
)

func TestMakeCacheGroupRejectsDuplicateName(t *testing.T) {
	d := NewDirectory()
	if _, err := d.MakeCacheGroup("g", 1024, noopSource); err != nil {
		t.Fatalf("first MakeCacheGroup: %v", err)
	}
	if _, err := d.MakeCacheGroup("g", 1024, noopSource); err != ErrGroupExists {
		t.Fatalf("second MakeCacheGroup = %v, want ErrGroupExists", err)
	}
}

func TestGetCacheGroupReportsAbsence(t *testing.T) {
	d := NewDirectory()
	if _, ok := d.GetCacheGroup("missing"); ok {
		t.Error("GetCacheGroup for an unregistered name should report absent")
	}
	if _, err := d.MakeCacheGroup("g", 1024, noopSource); err != nil {
		t.Fatal(err)
	}
	if g, ok := d.GetCacheGroup("g"); !ok || g.Name() != "g" {
		t.Errorf("GetCacheGroup(g) = %v, %v", g, ok)
	}
}

func TestCloseRemovesFromDirectoryAndAllowsRecreation(t *testing.T) {
	d := NewDirectory()
	g, err := d.MakeCacheGroup("g", 1024, noopSource)
	if err != nil {
		t.Fatal(err)
	}

	d.Close("g")

	if _, ok := d.GetCacheGroup("g"); ok {
		t.Error("group should be gone from the directory after Close")
	}
	if _, ok := g.Get(context.Background(), "k"); ok {
		t.Error("the closed CacheGroup itself should reject Get")
	}

	if _, err := d.MakeCacheGroup("g", 1024, noopSource); err != nil {
		t.Fatalf("re-creating after Close should succeed, got %v", err)
	}
}

func TestCloseOnUnknownNameIsNoop(t *testing.T) {
	d := NewDirectory()
	d.Close("ghost") // must not panic
}

func TestNamesReflectsRegisteredGroups(t *testing.T) {
	d := NewDirectory()
	if _, err := d.MakeCacheGroup("a", 1024, noopSource); err != nil {
		t.Fatal(err)
	}
	if _, err := d.MakeCacheGroup("b", 1024, noopSource); err != nil {
		t.Fatal(err)
	}

	names := d.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 entries", names)
	}
}
