package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"page.png", "page.png"},
		{"/tmp/upload/a.png", "a.png"},
		{"nested/dir/b.jpeg", "b.jpeg"},
		{"dir/", ""},
		{"", ""},
		{`C:\scans\page.png`, `C:\scans\page.png`},
	}
	for _, tc := range cases {
		if got := BaseName(tc.in); got != tc.want {
			t.Fatalf("BaseName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	got, err := ExpandPath("~/.ocrdemo")
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if want := filepath.Join(home, ".ocrdemo"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if got, _ := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path changed: %q", got)
	}
}

func TestEnsureDirAndPathExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if PathExists(dir) {
		t.Fatalf("dir should not exist yet")
	}
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if !PathExists(dir) {
		t.Fatalf("dir was not created")
	}
}
