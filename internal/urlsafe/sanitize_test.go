// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package urlsafe

import "testing"

func TestParseRequestURL_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"control char", "/foo\x01bar"},
		{"backslash", "/foo\\bar"},
		{"scheme qualified", "https://evil.example/x"},
		{"protocol relative", "//evil.example/x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRequestURL(tc.raw); err == nil {
				t.Fatalf("expected rejection for %q", tc.raw)
			}
		})
	}
}

func TestParseRequestURL_Accepts(t *testing.T) {
	u, err := ParseRequestURL("/radio/stations?country=DE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Path != "/radio/stations" {
		t.Fatalf("unexpected path: %s", u.Path)
	}
	if u.RawQuery != "country=DE" {
		t.Fatalf("unexpected query: %s", u.RawQuery)
	}
}

func TestSanitizePathSuffix_Rejections(t *testing.T) {
	cases := []string{
		"/../secret",
		"/a/../../b",
		"/a\\b",
		"/%2e%2e/etc",
		"/%2e%2f/etc",
		"/%2f%2e/etc",
		"/%5cetc",
		"/a%2f%2fb",
		"//etc/passwd",
	}
	for _, raw := range cases {
		if _, err := SanitizePathSuffix(raw); err == nil {
			t.Fatalf("expected rejection for %q", raw)
		}
	}
}

func TestSanitizePathSuffix_DoubleEncodedTraversalRejected(t *testing.T) {
	// %252e%252e decodes once to %2e%2e, which itself is a rejected token.
	if _, err := SanitizePathSuffix("/%252e%252e/etc"); err == nil {
		t.Fatal("expected double-encoded traversal to be rejected")
	}
}

func TestSanitizePathSuffix_CollapsesSlashesAndPrependsLeading(t *testing.T) {
	out, err := SanitizePathSuffix("stations///123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "/stations/123" {
		t.Fatalf("got %q", out)
	}
}
