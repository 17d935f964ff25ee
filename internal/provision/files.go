package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"text/template"

	"github.com/edvin/hostprov/internal/host"
)

// DeployFile writes a file when its content or mode differ from what is on
// the host. A Changed outcome is what triggers dependent restarts.
type DeployFile struct {
	Dest   string
	Mode   fs.FileMode
	Render func() ([]byte, error)
}

// File deploys static content.
func File(dest string, content []byte, mode fs.FileMode) DeployFile {
	return DeployFile{
		Dest:   dest,
		Mode:   mode,
		Render: func() ([]byte, error) { return content, nil },
	}
}

// Template deploys the output of tmpl executed with data.
func Template(dest string, tmpl *template.Template, data any, mode fs.FileMode) DeployFile {
	return DeployFile{
		Dest: dest,
		Mode: mode,
		Render: func() ([]byte, error) {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, data); err != nil {
				return nil, fmt.Errorf("render %s: %w", tmpl.Name(), err)
			}
			return buf.Bytes(), nil
		},
	}
}

func (s DeployFile) Name() string { return "file " + s.Dest }

func (s DeployFile) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	want, err := s.Render()
	if err != nil {
		return false, err
	}
	fi, err := h.Stat(ctx, s.Dest)
	if err != nil {
		return false, err
	}
	if !fi.Exists || fi.IsDir || fi.LinkTarget != "" || fi.Mode != s.Mode {
		return false, nil
	}
	have, err := h.ReadFile(ctx, s.Dest)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Equal(have, want), nil
}

func (s DeployFile) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	data, err := s.Render()
	if err != nil {
		return Unchanged, err
	}
	if err := h.MkdirAll(ctx, filepath.Dir(s.Dest), 0o755); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}
	if err := h.WriteFile(ctx, s.Dest, data, s.Mode); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return Changed, nil
}

// EnsureSymlink points Link at Target.
type EnsureSymlink struct {
	Target string
	Link   string
}

func (s EnsureSymlink) Name() string { return "symlink " + s.Link }

func (s EnsureSymlink) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	fi, err := h.Stat(ctx, s.Link)
	if err != nil {
		return false, err
	}
	return fi.LinkTarget == s.Target, nil
}

func (s EnsureSymlink) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	if err := h.Symlink(ctx, s.Target, s.Link); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return Changed, nil
}

// EnsureAbsent removes a file or symlink.
type EnsureAbsent struct {
	Path string
}

func (s EnsureAbsent) Name() string { return "absent " + s.Path }

func (s EnsureAbsent) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	ok, err := host.Exists(ctx, h, s.Path)
	return !ok, err
}

func (s EnsureAbsent) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	if err := h.Remove(ctx, s.Path); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return Changed, nil
}

// EnsureDirectory creates a directory.
type EnsureDirectory struct {
	Path string
	Mode fs.FileMode
}

func (s EnsureDirectory) Name() string { return "directory " + s.Path }

func (s EnsureDirectory) Satisfied(ctx context.Context, h host.Host) (bool, error) {
	fi, err := h.Stat(ctx, s.Path)
	if err != nil {
		return false, err
	}
	return fi.Exists && fi.IsDir, nil
}

func (s EnsureDirectory) Apply(ctx context.Context, h host.Host) (Outcome, error) {
	if err := h.MkdirAll(ctx, s.Path, s.Mode); err != nil {
		return Unchanged, fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return Changed, nil
}
