// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestConfineRelPath(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.Mkdir(filepath.Join(tmpDir, "subdir"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "safe.txt"), []byte("safe"), 0o600); err != nil {
		t.Fatal(err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Symlink("..", filepath.Join(tmpDir, "link_outside")); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{"plain file", "safe.txt", false},
		{"nested dir", "subdir/nested.txt", false},
		{"dot segments that stay inside", "subdir/../safe.txt", false},
		{"traversal", "../outside.txt", true},
		{"absolute", "/etc/passwd", true},
		{"backslash", "sub\\dir\\file.txt", true},
	}
	if runtime.GOOS != "windows" {
		cases = append(cases, struct {
			name    string
			rel     string
			wantErr bool
		}{"symlink escape", "link_outside/passwd", true})
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ConfineRelPath(tmpDir, tc.rel)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %q, got nil", tc.rel)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.rel, err)
			}
		})
	}
}

func TestConfineAbsPath(t *testing.T) {
	tmpDir := t.TempDir()
	inside := filepath.Join(tmpDir, "a", "b.txt")
	if err := os.MkdirAll(filepath.Dir(inside), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inside, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := ConfineAbsPath(tmpDir, inside); err != nil {
		t.Fatalf("expected inside path to be confined, got: %v", err)
	}
	if _, err := ConfineAbsPath(tmpDir, filepath.Join(filepath.Dir(tmpDir), "other")); err == nil {
		t.Fatal("expected escape to be rejected")
	}
	if _, err := ConfineAbsPath(tmpDir, "relative/path"); err == nil {
		t.Fatal("expected non-absolute target to be rejected")
	}
}

func TestIsRegularFile(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := IsRegularFile(file); err != nil {
		t.Fatalf("expected regular file to pass, got: %v", err)
	}
	if err := IsRegularFile(tmpDir); err == nil {
		t.Fatal("expected directory to fail IsRegularFile")
	}
	if err := IsRegularFile(filepath.Join(tmpDir, "missing")); err == nil {
		t.Fatal("expected missing file to error")
	}
}
