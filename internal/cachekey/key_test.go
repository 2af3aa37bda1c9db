package cachekey

import (
	"errors"
	"strings"
	"testing"
)

func TestDeriveIsDeterministic(t *testing.T) {
	first, err := Derive("https://example.com/a.png")
	if err != nil {
		t.Fatalf("derive error: %v", err)
	}
	second, err := Derive("https://example.com/a.png")
	if err != nil {
		t.Fatalf("derive error: %v", err)
	}
	if first != second {
		t.Fatalf("same url should produce same key: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
}

// 固定值保证跨进程/跨版本的磁盘缓存可复用。
func TestDeriveStableAcrossRuns(t *testing.T) {
	key, err := Derive("https://example.com/a.png")
	if err != nil {
		t.Fatalf("derive error: %v", err)
	}
	const want = "494a30704d4f32ac0b81739d18a66d3638d440cbc6f5669f6af66f840edee5ab"
	if key != want {
		t.Fatalf("derived key changed: got %s want %s", key, want)
	}
}

func TestDeriveNormalizesSchemeHostAndFragment(t *testing.T) {
	base, err := Derive("https://example.com/a.png?size=2")
	if err != nil {
		t.Fatalf("derive error: %v", err)
	}
	variants := []string{
		"HTTPS://EXAMPLE.com/a.png?size=2",
		"https://example.com/a.png?size=2#frag",
		"  https://example.com/a.png?size=2  ",
	}
	for _, v := range variants {
		got, err := Derive(v)
		if err != nil {
			t.Fatalf("derive %q error: %v", v, err)
		}
		if got != base {
			t.Fatalf("%q should map to the same key", v)
		}
	}
}

func TestDeriveDistinguishesPathAndQuery(t *testing.T) {
	urls := []string{
		"https://example.com/a.png",
		"https://example.com/A.png",
		"https://example.com/a.png?size=2",
		"http://example.com/a.png",
		"https://example.org/a.png",
	}
	seen := map[string]string{}
	for _, u := range urls {
		key, err := Derive(u)
		if err != nil {
			t.Fatalf("derive %q error: %v", u, err)
		}
		if prev, ok := seen[key]; ok {
			t.Fatalf("%q collides with %q", u, prev)
		}
		seen[key] = u
	}
}

func TestDeriveRejectsMalformed(t *testing.T) {
	cases := []string{"", "   ", "not a url", "/relative/path", "https://", "://missing-scheme", "http://[::1"}
	for _, raw := range cases {
		if _, err := Derive(raw); !errors.Is(err, ErrMalformedURL) {
			t.Fatalf("expected ErrMalformedURL for %q, got %v", raw, err)
		}
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		want error
	}{
		{"plain", "avatar-42", nil},
		{"derived", strings.Repeat("a", 64), nil},
		{"empty", "", ErrInvalidKey},
		{"blank", "  ", ErrInvalidKey},
		{"dot", "..", ErrInvalidKey},
		{"slash", "a/b", ErrInvalidKey},
		{"newline", "a\nb", ErrInvalidKey},
		{"too long", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.key)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate(%q) = %v, want %v", tc.key, err, tc.want)
			}
		})
	}
}
