// Package worker tracks one long-lived GPU worker subprocess: its binary
// path, expected PID, accumulated stdout/stderr tail, and restart count.
// A Record never references the Supervisor that owns it; it only knows
// about its own files and its own child handle.
package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	// outputTailCap bounds Record.OutputTail; on overflow we drop the
	// oldest chunk so the tail never grows past this.
	outputTailCap = 32 * 1024
	// outputTailTrim is how much we drop from the head on overflow, beyond
	// the bytes that exceed outputTailCap.
	outputTailTrim = 8 * 1024
)

// Record is the supervisor's view of one tracked child process.
type Record struct {
	mu sync.Mutex

	Name       string
	BinaryPath string
	Arguments  []string

	PidFile    string
	StdoutFile string
	StderrFile string

	lastKnownPID int
	stdoutCursor int64
	stderrCursor int64

	outputTail   strings.Builder
	restartCount uint32

	cmd *exec.Cmd
}

// NewRecord builds a Record for name rooted at trackDir, with its binary
// already resolved to path.
func NewRecord(name, path, trackDir string, args []string) *Record {
	return &Record{
		Name:       name,
		BinaryPath: path,
		Arguments:  args,
		PidFile:    filepath.Join(trackDir, name+"-pid.txt"),
		StdoutFile: filepath.Join(trackDir, name+"-stdout.txt"),
		StderrFile: filepath.Join(trackDir, name+"-stderr.txt"),
	}
}

// Spawn launches a fresh child, truncating the stdout/stderr files,
// recording its PID, and resetting cursors. restart_count is incremented
// exactly once per successful call; a call that returns an error leaves it
// unchanged.
func (r *Record) Spawn() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.PidFile), 0755); err != nil {
		return fmt.Errorf("create track dir for %s: %w", r.Name, err)
	}

	outFile, err := os.Create(r.StdoutFile)
	if err != nil {
		return fmt.Errorf("create stdout file for %s: %w", r.Name, err)
	}
	defer outFile.Close()

	errFile, err := os.Create(r.StderrFile)
	if err != nil {
		return fmt.Errorf("create stderr file for %s: %w", r.Name, err)
	}
	defer errFile.Close()

	cmd := exec.Command(r.BinaryPath, r.Arguments...)
	cmd.Stdin = nil
	cmd.Stdout = outFile
	cmd.Stderr = errFile

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", r.Name, err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(r.PidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("write pid file for %s: %w", r.Name, err)
	}

	r.cmd = cmd
	r.lastKnownPID = pid
	r.stdoutCursor = 0
	r.stderrCursor = 0
	r.restartCount++

	r.outputTail.WriteString(fmt.Sprintf("================ PID %d ================\n", pid))
	r.trimOutputTailLocked()

	return nil
}

// expectedPID reads the pid file, the filesystem-authoritative source of
// truth for which PID we believe is running.
func (r *Record) expectedPID() (int, bool, error) {
	data, err := os.ReadFile(r.PidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, err
	}
	return pid, true, nil
}

// IsRunning reports whether the PID on file names a live, non-zombie
// process. When the OS table no longer has that PID, or reports it as a
// zombie, the held child handle is reaped. Only the zombie state counts as
// exited; any other status the OS reports is treated as running.
func (r *Record) IsRunning() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pid, ok, err := r.expectedPID()
	if err != nil {
		return false, fmt.Errorf("read pid file for %s: %w", r.Name, err)
	}
	if !ok {
		r.reapLocked()
		return false, nil
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		// Not present in the OS table at all.
		r.reapLocked()
		return false, nil
	}

	status, err := proc.Status()
	if err == nil {
		for _, s := range status {
			if s == process.Zombie {
				r.reapLocked()
				return false, nil
			}
		}
	}

	r.lastKnownPID = pid
	return true, nil
}

// reapLocked consumes the exit status of a held child handle whose PID is
// no longer live in the OS table. Caller must hold r.mu.
func (r *Record) reapLocked() {
	if r.cmd == nil || r.cmd.Process == nil {
		return
	}
	_ = r.cmd.Wait()
	r.cmd = nil
}

// RefreshOutputTail reads new bytes appended to stdout/stderr since the
// last cursor, appends them to the in-memory tail (capped and trimmed at
// a rune boundary), and mirrors them to the server's own stdout/stderr.
func (r *Record) RefreshOutputTail() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.appendNewBytesLocked(r.StdoutFile, &r.stdoutCursor, os.Stdout); err != nil {
		return err
	}
	if err := r.appendNewBytesLocked(r.StderrFile, &r.stderrCursor, os.Stderr); err != nil {
		return err
	}
	return nil
}

func (r *Record) appendNewBytesLocked(path string, cursor *int64, mirror *os.File) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() <= *cursor {
		return nil
	}

	if _, err := f.Seek(*cursor, 0); err != nil {
		return fmt.Errorf("seek %s: %w", path, err)
	}
	buf := make([]byte, info.Size()-*cursor)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return fmt.Errorf("read %s: %w", path, err)
	}
	buf = buf[:n]

	r.outputTail.Write(buf)
	r.trimOutputTailLocked()
	*cursor += int64(n)

	fmt.Fprint(mirror, string(buf))
	return nil
}

// trimOutputTailLocked enforces the 32 KiB cap, dropping the bytes over the
// cap plus a further ~8 KiB from the head, at a valid rune boundary rather
// than an arbitrary byte offset. Caller must hold r.mu.
func (r *Record) trimOutputTailLocked() {
	if r.outputTail.Len() <= outputTailCap {
		return
	}
	s := r.outputTail.String()
	cut := len(s) - outputTailCap + outputTailTrim
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	r.outputTail.Reset()
	r.outputTail.WriteString(s[cut:])
}

// OutputTail returns a snapshot of the accumulated tail.
func (r *Record) OutputTail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputTail.String()
}

// RestartCount returns the number of times Spawn has been called.
func (r *Record) RestartCount() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restartCount
}

// LastKnownPID returns the cached PID mirror, or 0 if none.
func (r *Record) LastKnownPID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastKnownPID
}

// binaryName appends the platform executable suffix to name.
func binaryName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}
