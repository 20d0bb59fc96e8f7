package rpcserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oliana-project/oliana/internal/jobfs"
	"github.com/oliana-project/oliana/internal/session"
	"github.com/oliana-project/oliana/internal/supervisor"
)

func newTestGateway(t *testing.T) (*Gateway, *sessionState) {
	t.Helper()
	sup := supervisor.New(nopLogger(), t.TempDir(), t.TempDir())
	g := New(nopLogger(), sup, 0, t.TempDir(), t.TempDir())
	return g, &sessionState{sess: session.New(nil)}
}

// TestTextBeginThenStream covers S1 (begin-then-stream): a begin call
// allocates a nonce and publishes the input descriptor, and a single
// completed output is streamed back in one token followed by EOF.
func TestTextBeginThenStream(t *testing.T) {
	g, sess := newTestGateway(t)

	if errMsg := g.handleTextBegin(sess, textBeginArgs{SystemPrompt: "sys", UserPrompt: "hello"}); errMsg != "" {
		t.Fatalf("handleTextBegin returned error: %q", errMsg)
	}

	nonce, ok := sess.sess.TextNonce()
	if !ok || nonce != 0 {
		t.Fatalf("nonce = %d, ok = %v, want 0, true", nonce, ok)
	}

	inputPath := filepath.Join(g.textWorkdir, "0.json")
	if _, err := os.Stat(inputPath); err != nil {
		t.Fatalf("expected input descriptor at %s: %v", inputPath, err)
	}

	outPath, donePath := jobfs.TextPaths(g.textWorkdir, nonce)
	if err := os.WriteFile(outPath, []byte("Hello"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tok := g.handleTextNextToken(sess)
	if tok == nil || *tok != "Hello" {
		t.Fatalf("first token = %v, want \"Hello\"", tok)
	}

	tok = g.handleTextNextToken(sess)
	if tok != nil {
		t.Fatalf("second token = %v, want nil (EOF)", *tok)
	}
}

// TestTextStreamsMultipleChunksBeforeDone covers S2 (chunked streaming): a
// worker appending output incrementally is observed one chunk at a time,
// with EOF signaled only once the done sentinel appears.
func TestTextStreamsMultipleChunksBeforeDone(t *testing.T) {
	g, sess := newTestGateway(t)

	if errMsg := g.handleTextBegin(sess, textBeginArgs{UserPrompt: "hi"}); errMsg != "" {
		t.Fatalf("handleTextBegin returned error: %q", errMsg)
	}
	nonce, _ := sess.sess.TextNonce()
	outPath, donePath := jobfs.TextPaths(g.textWorkdir, nonce)

	if err := os.WriteFile(outPath, []byte("Hel"), 0644); err != nil {
		t.Fatal(err)
	}
	tok := g.handleTextNextToken(sess)
	if tok == nil || *tok != "Hel" {
		t.Fatalf("first chunk = %v, want \"Hel\"", tok)
	}

	if err := os.WriteFile(outPath, []byte("Hello"), 0644); err != nil {
		t.Fatal(err)
	}
	tok = g.handleTextNextToken(sess)
	if tok == nil || *tok != "lo" {
		t.Fatalf("second chunk = %v, want \"lo\"", tok)
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		t.Fatal(err)
	}
	tok = g.handleTextNextToken(sess)
	if tok != nil {
		t.Fatalf("third call = %v, want nil (EOF) once done sentinel appears", *tok)
	}
}

// TestImageBeginThenGetResult covers S3 (image happy path): a begin call
// followed by a stable PNG artifact is returned in full once its length
// settles.
func TestImageBeginThenGetResult(t *testing.T) {
	g, sess := newTestGateway(t)

	if errMsg := g.handleImageBegin(sess, imageBeginArgs{Prompt: "a cat", NumInferenceSteps: 20}); errMsg != "" {
		t.Fatalf("handleImageBegin returned error: %q", errMsg)
	}

	nonce, ok := sess.sess.ImageNonce()
	if !ok || nonce != 0 {
		t.Fatalf("nonce = %d, ok = %v, want 0, true", nonce, ok)
	}

	pngPath, _ := jobfs.ImagePaths(g.imageWorkdir, nonce)
	want := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}
	if err := os.WriteFile(pngPath, want, 0644); err != nil {
		t.Fatal(err)
	}

	if !g.handleImageResultExists(sess) {
		t.Fatal("expected handleImageResultExists to report true once the PNG exists")
	}

	got := g.handleImageGetResult(sess)
	if string(got) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestImageGetResultReportsWorkerError covers S4 (image error path): a
// worker-reported error artifact yields a nil result rather than a panic
// or a partially-read PNG.
func TestImageGetResultReportsWorkerError(t *testing.T) {
	g, sess := newTestGateway(t)

	if errMsg := g.handleImageBegin(sess, imageBeginArgs{Prompt: "a dog"}); errMsg != "" {
		t.Fatalf("handleImageBegin returned error: %q", errMsg)
	}

	nonce, _ := sess.sess.ImageNonce()
	_, errPath := jobfs.ImagePaths(g.imageWorkdir, nonce)
	if err := os.WriteFile(errPath, []byte("model failed to load"), 0644); err != nil {
		t.Fatal(err)
	}

	if !g.handleImageResultExists(sess) {
		t.Fatal("expected handleImageResultExists to report true once the error artifact exists")
	}

	if got := g.handleImageGetResult(sess); got != nil {
		t.Fatalf("got %v, want nil on worker error", got)
	}
}
