// Package jobfs implements the nonce-indexed filesystem job protocol
// workers and the gateway use to exchange text and image generation
// requests: an input descriptor file, an output artifact file grown
// incrementally or written atomically, and a completion sentinel created
// strictly after the final output byte is flushed.
package jobfs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollInterval is the longest any wait loop in this package sleeps between
// checks; an fsnotify event in the watched directory can end a wait sooner.
const pollInterval = 100 * time.Millisecond

// TextInput is the JSON descriptor written for a text generation job.
type TextInput struct {
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

// ImageInput is the JSON descriptor written for an image generation job.
type ImageInput struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	GuidanceScale     float32 `json:"guidance_scale"`
	NumInferenceSteps uint32  `json:"num_inference_steps"`
}

// AwaitResult is the outcome of waiting for an output artifact to appear.
type AwaitResult int

const (
	Timeout AwaitResult = iota
	ErrorFile
	SuccessFile
)

// AllocateNonce scans workdir upward from start until it finds a nonce
// with no existing "{n}.json", so allocation survives a server restart
// against files left over from a previous run.
func AllocateNonce(workdir string, start uint64) uint64 {
	n := start
	for {
		path := filepath.Join(workdir, fmt.Sprintf("%d.json", n))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return n
		}
		n++
	}
}

// RemoveStaleOutputs unlinks any pre-existing output/error/done artifacts
// for nonce, across every extension a text or image job might have left.
func RemoveStaleOutputs(workdir string, nonce uint64) error {
	for _, ext := range []string{".txt", ".png", ".done"} {
		path := filepath.Join(workdir, fmt.Sprintf("%d%s", nonce, ext))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale %s: %w", path, err)
		}
	}
	return nil
}

// PublishInput writes the JSON descriptor for nonce. Workers only re-scan
// a path on a strict mtime increase, so a plain write is sufficient on
// filesystems where partial reads of a growing file aren't a risk.
func PublishInput(workdir string, nonce uint64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	path := filepath.Join(workdir, fmt.Sprintf("%d.json", nonce))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write input %s: %w", path, err)
	}
	return nil
}

func textOutputPath(workdir string, nonce uint64) string {
	return filepath.Join(workdir, fmt.Sprintf("%d.txt", nonce))
}

func textDonePath(workdir string, nonce uint64) string {
	return filepath.Join(workdir, fmt.Sprintf("%d.done", nonce))
}

func imagePNGPath(workdir string, nonce uint64) string {
	return filepath.Join(workdir, fmt.Sprintf("%d.png", nonce))
}

// AwaitOutputExists polls for a success (.txt for text, .png for image)
// or error artifact (shared .txt path for both kinds in this protocol's
// text case; image uses .txt strictly as an error channel).
func AwaitOutputExists(successPath, errorPath string, maxWait time.Duration) AwaitResult {
	w := newWaiter(filepath.Dir(successPath))
	defer w.Close()

	deadline := time.Now().Add(maxWait)
	for {
		if _, err := os.Stat(successPath); err == nil {
			return SuccessFile
		}
		if errorPath != "" && errorPath != successPath {
			if _, err := os.Stat(errorPath); err == nil {
				return ErrorFile
			}
		}
		if time.Now().After(deadline) {
			return Timeout
		}
		w.wait(pollInterval)
	}
}

// ReadIncremental reads bytes past cursor from path. If new bytes are
// available they're returned with the advanced cursor. If no new bytes
// are available and donePath exists, it reports end of stream. Otherwise
// it waits and retries, bounded by maxWait.
func ReadIncremental(path string, cursor int64, donePath string, maxWait time.Duration) (chunk []byte, newCursor int64, eof bool, err error) {
	w := newWaiter(filepath.Dir(path))
	defer w.Close()

	deadline := time.Now().Add(maxWait)
	for {
		f, openErr := os.Open(path)
		if openErr != nil {
			if !os.IsNotExist(openErr) {
				return nil, cursor, false, fmt.Errorf("open %s: %w", path, openErr)
			}
		} else {
			info, statErr := f.Stat()
			if statErr != nil {
				f.Close()
				return nil, cursor, false, fmt.Errorf("stat %s: %w", path, statErr)
			}
			size := info.Size()
			if size < cursor {
				// Truncated below the cursor: treat as end of stream.
				f.Close()
				return nil, cursor, true, nil
			}
			if size > cursor {
				if _, err := f.Seek(cursor, 0); err != nil {
					f.Close()
					return nil, cursor, false, fmt.Errorf("seek %s: %w", path, err)
				}
				buf := make([]byte, size-cursor)
				n, readErr := io.ReadFull(f, buf)
				f.Close()
				if readErr != nil && n == 0 {
					return nil, cursor, false, fmt.Errorf("read %s: %w", path, readErr)
				}
				return buf[:n], cursor + int64(n), false, nil
			}
			f.Close()
		}

		if _, err := os.Stat(donePath); err == nil {
			return nil, cursor, true, nil
		}
		if time.Now().After(deadline) {
			return nil, cursor, true, nil
		}
		w.wait(pollInterval)
	}
}

// ReadCompletePNG waits for the PNG to exist, then waits until its length
// is stable across one poll interval, then reads it in full.
func ReadCompletePNG(path string, stableWait time.Duration) ([]byte, error) {
	deadline := time.Now().Add(stableWait)
	var lastLen int64 = -1

	for {
		info, err := os.Stat(path)
		if err == nil {
			if info.Size() == lastLen {
				time.Sleep(pollInterval)
				return os.ReadFile(path)
			}
			lastLen = info.Size()
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(pollInterval)
	}
	return os.ReadFile(path)
}

// TextPaths returns the canonical output/done paths for a text nonce.
func TextPaths(workdir string, nonce uint64) (outPath, donePath string) {
	return textOutputPath(workdir, nonce), textDonePath(workdir, nonce)
}

// ImagePaths returns the canonical png/error paths for an image nonce.
func ImagePaths(workdir string, nonce uint64) (pngPath, errPath string) {
	return imagePNGPath(workdir, nonce), textOutputPath(workdir, nonce)
}

// waiter layers an fsnotify watch (best-effort, faster-than-poll wakeup)
// under the mandatory 100ms poll floor used as the liveness backstop.
type waiter struct {
	watcher *fsnotify.Watcher
}

func newWaiter(dir string) *waiter {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return &waiter{}
	}
	_ = w.Add(dir)
	return &waiter{watcher: w}
}

func (w *waiter) wait(floor time.Duration) {
	if w.watcher == nil {
		time.Sleep(floor)
		return
	}
	timer := time.NewTimer(floor)
	defer timer.Stop()
	select {
	case <-w.watcher.Events:
	case <-w.watcher.Errors:
	case <-timer.C:
	}
}

func (w *waiter) Close() {
	if w.watcher != nil {
		w.watcher.Close()
	}
}
