package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// DefaultGrace is how long a cancelled subprocess gets between SIGTERM and SIGKILL.
const DefaultGrace = 10 * time.Second

// Command describes a subprocess job.
type Command struct {
	Name    string
	Path    string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	LogFile string   // stdout and stderr; discarded when empty
	Grace   time.Duration
}

// Shell runs line through /bin/sh -c.
func Shell(line string) Command {
	line = strings.TrimSpace(line)
	name := line
	if fields := strings.Fields(line); len(fields) > 0 {
		name = filepath.Base(fields[0])
	}
	return Command{Name: name, Path: "/bin/sh", Args: []string{"-c", line}}
}

// Job adapts the command to the dispatcher.
func (c Command) Job() Job {
	name := c.Name
	if name == "" {
		name = filepath.Base(c.Path)
	}
	return Job{Name: name, Run: c.Run}
}

// Run starts the process and waits for it. Cancelling ctx sends SIGTERM, then
// kills the process after the grace period.
func (c Command) Run(ctx context.Context) error {
	if c.Path == "" {
		return errors.New("command path required")
	}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = c.Grace
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGrace
	}

	if c.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", c.Path, ctx.Err())
		}
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	return nil
}

// ReadJobs reads one shell command per line, skipping blanks and # comments.
func ReadJobs(r io.Reader) ([]Command, error) {
	var cmds []Command
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmds = append(cmds, Shell(line))
	}
	return cmds, sc.Err()
}

// WithLogDir gives each command a log file named after its position and name.
func WithLogDir(cmds []Command, dir string) []Command {
	out := make([]Command, len(cmds))
	for i, c := range cmds {
		if dir != "" {
			c.LogFile = filepath.Join(dir, fmt.Sprintf("%03d-%s.log", i+1, sanitizeName(c.Name)))
		}
		out[i] = c
	}
	return out
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
}
