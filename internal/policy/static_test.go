package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalogProfiles(t *testing.T) {
	catalog := Default()

	names := catalog.Names()
	want := []string{"conservative", "balanced", "aggressive"}
	if len(names) != len(want) {
		t.Fatalf("unexpected profile count: %v", names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("unexpected order: got %v want %v", names, want)
		}
	}

	balanced, ok := catalog.Resolve("balanced")
	if !ok {
		t.Fatalf("balanced profile missing")
	}
	if balanced.MinPct != 10 || balanced.MaxPct != 40 {
		t.Fatalf("unexpected balanced bounds: [%d, %d]", balanced.MinPct, balanced.MaxPct)
	}

	aggressive, ok := catalog.Resolve("aggressive")
	if !ok || aggressive.MaxPct != 60 {
		t.Fatalf("unexpected aggressive profile: %+v", aggressive)
	}
}

func TestResolveNormalizesName(t *testing.T) {
	catalog := Default()

	// 查找忽略大小写与首尾空白。
	if _, ok := catalog.Resolve("  Balanced "); !ok {
		t.Fatalf("normalized lookup failed")
	}
	if _, ok := catalog.Resolve("moonshot"); ok {
		t.Fatalf("unknown profile should not resolve")
	}
}

func TestNewStaticCatalogDropsInvalidProfiles(t *testing.T) {
	catalog := NewStaticCatalog([]Profile{
		{Name: "ok", MinPct: 5, MaxPct: 50},
		{Name: "inverted", MinPct: 60, MaxPct: 10},
		{Name: "", MinPct: 0, MaxPct: 100},
		{Name: "overflow", MinPct: 0, MaxPct: 120},
	})

	if names := catalog.Names(); len(names) != 1 || names[0] != "ok" {
		t.Fatalf("expected only the valid profile, got %v", names)
	}
}

func TestNewStaticCatalogLastDuplicateWins(t *testing.T) {
	catalog := NewStaticCatalog([]Profile{
		{Name: "growth", MinPct: 5, MaxPct: 30},
		{Name: "Growth", MinPct: 10, MaxPct: 45},
	})

	profile, ok := catalog.Resolve("growth")
	if !ok {
		t.Fatalf("growth profile missing")
	}
	if profile.MinPct != 10 || profile.MaxPct != 45 {
		t.Fatalf("duplicate should overwrite bounds, got [%d, %d]", profile.MinPct, profile.MaxPct)
	}
	if names := catalog.Names(); len(names) != 1 {
		t.Fatalf("duplicate should not add a second entry: %v", names)
	}
}

func TestLoadStaticCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	content := `[
		{"name": "steady", "description": "测试档位", "min_pct": 20, "max_pct": 30}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}

	catalog, err := LoadStaticCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, ok := catalog.Resolve("steady")
	if !ok || profile.MinPct != 20 || profile.MaxPct != 30 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestLoadStaticCatalogErrors(t *testing.T) {
	if _, err := LoadStaticCatalog("  "); err == nil {
		t.Fatalf("expected error for blank path")
	}
	if _, err := LoadStaticCatalog(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}
	if _, err := LoadStaticCatalog(path); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}
