package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// maxOutput bounds the captured output of one step. Only the tail is kept,
// which is where build tools print the error.
const maxOutput = 64 << 10

// Command is one recipe step ready to run.
type Command struct {
	Argv []string
	Dir  string
	Env  []string
}

// Runner executes recipe steps.
type Runner interface {
	// Run executes cmd and returns its combined output. A nonzero exit is
	// reported as *exec.ExitError.
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs steps as child processes.
type ExecRunner struct {
	// WaitDelay bounds how long output pipes may stay open after the process
	// is killed on cancellation (default 5s).
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	if len(c.Argv) == 0 {
		return nil, errors.New("empty command")
	}
	path, err := lookPath(c.Argv[0], c.Dir, lookupEnv(c.Env, "PATH"))
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path, c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	out := &tailBuffer{max: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	err = cmd.Run()
	return out.Bytes(), err
}

// lookPath resolves file against the recipe's PATH rather than the calling
// process's, so a step only finds tools its environment grants it. A relative
// path such as "./configure" is resolved against dir, the step's working
// directory.
func lookPath(file, dir, pathEnv string) (string, error) {
	if strings.ContainsRune(file, filepath.Separator) {
		p := file
		if !filepath.IsAbs(p) {
			abs, err := filepath.Abs(filepath.Join(dir, p))
			if err != nil {
				return "", fmt.Errorf("%s: %w", file, err)
			}
			p = abs
		}
		if err := executable(p); err != nil {
			return "", fmt.Errorf("%s: %w", file, err)
		}
		return p, nil
	}
	for _, elem := range filepath.SplitList(pathEnv) {
		if elem == "" {
			continue
		}
		p := filepath.Join(elem, file)
		if executable(p) == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", file, exec.ErrNotFound)
}

func executable(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return os.ErrPermission
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return append([]byte("...\n"), b.buf...)
	}
	return append([]byte(nil), b.buf...)
}
