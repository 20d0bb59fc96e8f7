package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindNewestBinary(t *testing.T) {
	dir := t.TempDir()

	older := filepath.Join(dir, "oliana_text")
	newerSub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(newerSub, 0755); err != nil {
		t.Fatal(err)
	}
	newer := filepath.Join(newerSub, "oliana_text")

	if err := os.WriteFile(older, []byte("old"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("new"), 0755); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	got, err := FindNewestBinary(dir, "oliana_text")
	if err != nil {
		t.Fatalf("FindNewestBinary: %v", err)
	}
	if got != newer {
		t.Fatalf("got %s, want %s", got, newer)
	}
}

func TestFindNewestBinaryNoMatch(t *testing.T) {
	dir := t.TempDir()
	if _, err := FindNewestBinary(dir, "does_not_exist"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
