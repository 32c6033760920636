package cache

import (
	"math"
	"testing"
	"time"
)

func TestNormalize_OrderIndependent(t *testing.T) {
	a := Normalize(map[string]any{"a": 1, "b": 2})
	b := Normalize(map[string]any{"b": 2, "a": 1})
	if a != b {
		t.Errorf("Normalize should ignore key order:\n  a=%s\n  b=%s", a, b)
	}
	if a != `{"a":1,"b":2}` {
		t.Errorf("Normalize() = %s, want {\"a\":1,\"b\":2}", a)
	}
}

func TestNormalize_ArrayOrderPreserved(t *testing.T) {
	got := Normalize([]any{map[string]any{"b": 1, "a": 2}, 3})
	want := `[{"a":2,"b":1},3]`
	if got != want {
		t.Errorf("Normalize() = %s, want %s", got, want)
	}

	if Normalize([]any{1, 2}) == Normalize([]any{2, 1}) {
		t.Error("different array order should produce different output")
	}
}

func TestNormalize_Nested(t *testing.T) {
	in1 := map[string]any{
		"z": []any{map[string]any{"y": 1, "x": map[string]any{"d": 1, "c": 2}}},
		"a": map[string]string{"q": "1", "p": "2"},
	}
	in2 := map[string]any{
		"a": map[string]string{"p": "2", "q": "1"},
		"z": []any{map[string]any{"x": map[string]any{"c": 2, "d": 1}, "y": 1}},
	}
	if Normalize(in1) != Normalize(in2) {
		t.Errorf("nested maps should normalize equally:\n  %s\n  %s", Normalize(in1), Normalize(in2))
	}
}

func TestNormalize_Primitives(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{"page", `"page"`},
		{42, "42"},
		{true, "true"},
		{1.5, "1.5"},
		{map[string]any(nil), "null"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), `"2024-01-02T03:04:05Z"`},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%#v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Total(t *testing.T) {
	// encoding/json rejects NaN; Normalize must still return something
	got := Normalize(map[string]any{"n": math.NaN()})
	if got != `{"n":"NaN"}` {
		t.Errorf("Normalize(NaN) = %s", got)
	}
}

func TestRequestKey_CredentialIsolation(t *testing.T) {
	base := Request{Method: "GET", BaseURL: "http://api", Path: "/api/sections", Params: map[string]any{"page": 1}}
	alice, bob := base, base
	alice.Authorization = "Bearer alice"
	bob.Authorization = "Bearer bob"

	if RequestKey(alice) == RequestKey(bob) {
		t.Error("requests under different credentials must not share a key")
	}
	if RequestKey(base) != "http://api/api/sections::{\"page\":1}::" {
		t.Errorf("RequestKey() = %s", RequestKey(base))
	}
}

func TestFileName_Stable(t *testing.T) {
	if fileName("k") != fileName("k") {
		t.Error("fileName should be deterministic")
	}
	if fileName("k1") == fileName("k2") {
		t.Error("fileName should differ for different keys")
	}
}
