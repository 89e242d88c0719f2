package cas

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSumIsConstructionOrderIndependent(t *testing.T) {
	first := map[string]any{
		"plan":     map[string]any{"min_pct": 10, "max_pct": 40},
		"protocol": "groth16",
		"inputs":   []string{"375000", "375000"},
	}
	second := map[string]any{
		"inputs":   []string{"375000", "375000"},
		"protocol": "groth16",
		"plan":     map[string]any{"max_pct": 40, "min_pct": 10},
	}

	d1, c1, err := Sum(first)
	if err != nil {
		t.Fatalf("Sum(first): %v", err)
	}
	d2, c2, err := Sum(second)
	if err != nil {
		t.Fatalf("Sum(second): %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digests differ: %s vs %s", d1.Hex(), d2.Hex())
	}
	if string(c1) != string(c2) {
		t.Fatalf("canonical bytes differ:\n%s\n%s", c1, c2)
	}
}

func TestCanonicalizeSortsKeysAndKeepsNumbers(t *testing.T) {
	raw := json.RawMessage(`{"b": 123456789012345678901234567890, "a": "x"}`)
	canonical, err := Canonicalize(raw)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":"x","b":123456789012345678901234567890}`
	if string(canonical) != want {
		t.Fatalf("got %s want %s", canonical, want)
	}
}

func TestCanonicalizeMatchesAcrossRepresentations(t *testing.T) {
	type payload struct {
		Curve    string `json:"curve"`
		Protocol string `json:"protocol"`
	}
	d1, _, err := Sum(payload{Curve: "bn128", Protocol: "groth16"})
	if err != nil {
		t.Fatalf("Sum struct: %v", err)
	}
	d2, _, err := Sum(json.RawMessage(`{"protocol":"groth16","curve":"bn128"}`))
	if err != nil {
		t.Fatalf("Sum raw: %v", err)
	}
	if d1 != d2 {
		t.Fatal("struct and raw JSON should hash identically")
	}
}

func TestDigestHexRoundTrip(t *testing.T) {
	d, _, err := Sum(map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	hexed := d.Hex()
	if len(hexed) != 64 || strings.ToLower(hexed) != hexed {
		t.Fatalf("hex form must be 64 lowercase chars: %s", hexed)
	}
	parsed, err := ParseDigest(hexed)
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != d {
		t.Fatal("round trip lost digest")
	}
	if parsed.Bytes32() != [32]byte(d) {
		t.Fatal("Bytes32 mismatch")
	}
}

func TestParseDigestRejectsGarbage(t *testing.T) {
	if _, err := ParseDigest("abc"); err == nil {
		t.Fatal("short digest accepted")
	}
	if _, err := ParseDigest(strings.Repeat("zz", 32)); err == nil {
		t.Fatal("non-hex digest accepted")
	}
}
