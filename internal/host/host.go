package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Command is a single external program invocation on a host.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string
	Stdin []byte
}

// Cmd builds a Command from a program name and its arguments.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command for logs and error messages.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// FileInfo describes a path on a host. A missing path is reported with
// Exists=false rather than an error.
type FileInfo struct {
	Exists     bool
	IsDir      bool
	Mode       fs.FileMode
	LinkTarget string
}

// Host is the transport used by provisioning steps. Every call goes to the
// live host; implementations never cache results between calls.
type Host interface {
	// Name returns the inventory name the host was opened for.
	Name() string

	// Run executes a command and returns its combined stdout/stderr. A non-zero
	// exit yields an *ExitError; the output is returned in both cases.
	Run(ctx context.Context, cmd Command) ([]byte, error)

	Stat(ctx context.Context, path string) (FileInfo, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error
	Symlink(ctx context.Context, target, link string) error
	Remove(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string, mode fs.FileMode) error

	Close() error
}

// ExitError is returned by Run when the command exits non-zero.
type ExitError struct {
	Command  string
	Code     int
	Output   string
	Underlay error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Underlay }

// ExitCode extracts the exit code from an error returned by Run. It returns
// -1 when err does not describe a process exit.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// Exists reports whether path exists on h.
func Exists(ctx context.Context, h Host, path string) (bool, error) {
	fi, err := h.Stat(ctx, path)
	if err != nil {
		return false, err
	}
	return fi.Exists, nil
}
