package jobfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAllocateNonceSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "1.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	got := AllocateNonce(dir, 0)
	if got != 2 {
		t.Fatalf("AllocateNonce = %d, want 2", got)
	}
}

func TestRemoveStaleOutputsRemovesAllExtensions(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".txt", ".png", ".done"} {
		if err := os.WriteFile(filepath.Join(dir, "5"+ext), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := RemoveStaleOutputs(dir, 5); err != nil {
		t.Fatalf("RemoveStaleOutputs: %v", err)
	}
	for _, ext := range []string{".txt", ".png", ".done"} {
		if _, err := os.Stat(filepath.Join(dir, "5"+ext)); !os.IsNotExist(err) {
			t.Fatalf("expected 5%s to be removed", ext)
		}
	}
}

func TestPublishInputWritesJSON(t *testing.T) {
	dir := t.TempDir()
	if err := PublishInput(dir, 3, TextInput{SystemPrompt: "sys", UserPrompt: "usr"}); err != nil {
		t.Fatalf("PublishInput: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "3.json"))
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if string(data) != `{"system_prompt":"sys","user_prompt":"usr"}` {
		t.Fatalf("unexpected input contents: %s", data)
	}
}

func TestReadIncrementalStreamsChunksThenEOF(t *testing.T) {
	dir := t.TempDir()
	outPath, donePath := TextPaths(dir, 0)

	if err := os.WriteFile(outPath, []byte("Hello"), 0644); err != nil {
		t.Fatal(err)
	}

	chunk, cursor, eof, err := ReadIncremental(outPath, 0, donePath, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadIncremental: %v", err)
	}
	if string(chunk) != "Hello" || eof {
		t.Fatalf("unexpected first read: chunk=%q eof=%v", chunk, eof)
	}

	if err := appendFile(outPath, " world"); err != nil {
		t.Fatal(err)
	}

	chunk, cursor, eof, err = ReadIncremental(outPath, cursor, donePath, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadIncremental second read: %v", err)
	}
	if string(chunk) != " world" || eof {
		t.Fatalf("unexpected second read: chunk=%q eof=%v", chunk, eof)
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		t.Fatal(err)
	}

	chunk, _, eof, err = ReadIncremental(outPath, cursor, donePath, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadIncremental third read: %v", err)
	}
	if len(chunk) != 0 || !eof {
		t.Fatalf("expected EOF with no bytes, got chunk=%q eof=%v", chunk, eof)
	}
}

func TestAwaitOutputExistsDetectsSuccessAndError(t *testing.T) {
	dir := t.TempDir()
	success := filepath.Join(dir, "1.png")
	errPath := filepath.Join(dir, "1.txt")

	if err := os.WriteFile(errPath, []byte("boom"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := AwaitOutputExists(success, errPath, 200*time.Millisecond); got != ErrorFile {
		t.Fatalf("AwaitOutputExists = %v, want ErrorFile", got)
	}

	if err := os.Remove(errPath); err != nil {
		t.Fatal(err)
	}
	if got := AwaitOutputExists(success, errPath, 100*time.Millisecond); got != Timeout {
		t.Fatalf("AwaitOutputExists = %v, want Timeout", got)
	}

	if err := os.WriteFile(success, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := AwaitOutputExists(success, errPath, 200*time.Millisecond); got != SuccessFile {
		t.Fatalf("AwaitOutputExists = %v, want SuccessFile", got)
	}
}

func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}
