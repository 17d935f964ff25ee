// Package hosttest provides an in-memory Host for exercising provisioning
// steps without touching a real machine.
package hosttest

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/edvin/hostprov/internal/host"
)

// HandlerFunc simulates one external program.
type HandlerFunc func(f *Fake, c host.Command) ([]byte, error)

type entry struct {
	data []byte
	mode fs.FileMode
	dir  bool
	link string
}

// Fake is a scripted Host backed by an in-memory filesystem.
type Fake struct {
	name string

	mu       sync.Mutex
	files    map[string]*entry
	handlers map[string]HandlerFunc
	log      []host.Command
}

// New creates an empty fake host.
func New(name string) *Fake {
	return &Fake{
		name:     name,
		files:    make(map[string]*entry),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers the simulation for a program name.
func (f *Fake) Handle(name string, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = fn
}

// Fail builds the error a program exiting with code would produce.
func Fail(c host.Command, code int, output string) ([]byte, error) {
	return []byte(output), &host.ExitError{Command: c.String(), Code: code, Output: output}
}

// Commands returns every command run so far, in order.
func (f *Fake) Commands() []host.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.Command, len(f.log))
	copy(out, f.log)
	return out
}

// CountCalls counts commands whose rendered form starts with prefix.
func (f *Fake) CountCalls(prefix string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.HasPrefix(c.String(), prefix) {
			n++
		}
	}
	return n
}

// ResetLog forgets recorded commands.
func (f *Fake) ResetLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = nil
}

// SetFile stores a regular file.
func (f *Fake) SetFile(p string, data string, mode fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path.Clean(p)] = &entry{data: []byte(data), mode: mode}
}

// File returns the content of a regular file, following one symlink.
func (f *Fake) File(p string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.files[path.Clean(p)]
	if !ok {
		return "", false
	}
	if e.link != "" {
		e, ok = f.files[path.Clean(e.link)]
		if !ok {
			return "", false
		}
	}
	return string(e.data), !e.dir
}

// Paths lists every stored path, sorted.
func (f *Fake) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) Run(ctx context.Context, c host.Command) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.log = append(f.log, c)
	fn, ok := f.handlers[c.Name]
	f.mu.Unlock()

	if !ok {
		return Fail(c, 127, fmt.Sprintf("%s: command not found\n", c.Name))
	}
	return fn(f, c)
}

func (f *Fake) Stat(_ context.Context, p string) (host.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	if e, ok := f.files[p]; ok {
		return host.FileInfo{Exists: true, IsDir: e.dir, Mode: e.mode, LinkTarget: e.link}, nil
	}
	prefix := p + "/"
	for k := range f.files {
		if strings.HasPrefix(k, prefix) {
			return host.FileInfo{Exists: true, IsDir: true, Mode: 0o755}, nil
		}
	}
	return host.FileInfo{}, nil
}

func (f *Fake) ReadFile(_ context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.files[path.Clean(p)]
	if !ok || e.dir {
		return nil, fmt.Errorf("read %s: %w", p, fs.ErrNotExist)
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (f *Fake) WriteFile(_ context.Context, p string, data []byte, mode fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.files[path.Clean(p)] = &entry{data: buf, mode: mode}
	return nil
}

func (f *Fake) Symlink(_ context.Context, target, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path.Clean(link)] = &entry{link: target, mode: 0o777}
	return nil
}

func (f *Fake) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path.Clean(p))
	return nil
}

func (f *Fake) MkdirAll(_ context.Context, p string, mode fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path.Clean(p)] = &entry{dir: true, mode: mode}
	return nil
}

func (f *Fake) Close() error { return nil }

var _ host.Host = (*Fake)(nil)
