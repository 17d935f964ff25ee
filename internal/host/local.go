package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Local runs commands and file operations on the machine running hostprov.
type Local struct {
	name   string
	logger zerolog.Logger
}

// NewLocal creates a Local host registered under the given inventory name.
func NewLocal(logger zerolog.Logger, name string) *Local {
	return &Local{
		name:   name,
		logger: logger.With().Str("component", "host-local").Str("host", name).Logger(),
	}
}

func (l *Local) Name() string { return l.name }

func (l *Local) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	// Output is parsed, so it must not be localized.
	cmd.Env = append(append(os.Environ(), "LC_ALL=C"), c.Env...)
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	l.logger.Debug().Str("cmd", c.String()).Msg("exec")
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, &ExitError{
				Command:  c.String(),
				Code:     exitErr.ExitCode(),
				Output:   string(output),
				Underlay: err,
			}
		}
		if errors.Is(err, exec.ErrNotFound) {
			// Same status a shell reports over SSH.
			return output, &ExitError{Command: c.String(), Code: 127, Output: err.Error(), Underlay: err}
		}
		return output, fmt.Errorf("%s: %w", c.String(), err)
	}
	return output, nil
}

func (l *Local) Stat(_ context.Context, path string) (FileInfo, error) {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, nil
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}

	info := FileInfo{Exists: true, IsDir: fi.IsDir(), Mode: fi.Mode().Perm()}
	if fi.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return FileInfo{}, fmt.Errorf("readlink %s: %w", path, err)
		}
		info.LinkTarget = target
	}
	return info, nil
}

func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (l *Local) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	// WriteFile only applies mode on create.
	return os.Chmod(path, mode)
}

func (l *Local) Symlink(_ context.Context, target, link string) error {
	if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

func (l *Local) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (l *Local) MkdirAll(_ context.Context, path string, mode fs.FileMode) error {
	return os.MkdirAll(path, mode)
}

func (l *Local) Close() error { return nil }
