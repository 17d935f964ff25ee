package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds connection settings for a remote host.
type SSHConfig struct {
	Address        string
	Port           int
	User           string
	KeyPath        string
	KnownHostsPath string
	// InsecureIgnoreHostKey skips host key verification. KnownHostsPath is
	// ignored when set.
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration
}

// exitAbsent is the status the file scripts exit with for a missing path.
const exitAbsent = 66

// Remote output is parsed, so every script runs in the C locale whatever
// the session environment sets.
const shellPrelude = "export LC_ALL=C; "

// SSH runs every operation as a shell command over an SSH connection.
type SSH struct {
	name   string
	logger zerolog.Logger
	client *ssh.Client
}

// DialSSH opens an SSH connection to a host.
func DialSSH(ctx context.Context, logger zerolog.Logger, name string, cfg SSHConfig) (*SSH, error) {
	logger = logger.With().Str("component", "host-ssh").Str("host", name).Logger()

	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", cfg.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyPath, err)
	}

	hostKeyCallback, err := hostKeyVerifier(logger, cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	user := cfg.User
	if user == "" {
		user = "root"
	}

	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	})
	if err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	logger.Debug().Str("addr", addr).Str("user", user).Msg("ssh connected")
	return &SSH{
		name:   name,
		logger: logger,
		client: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

// hostKeyVerifier checks host keys against KnownHostsPath, or
// ~/.ssh/known_hosts when unset.
func hostKeyVerifier(logger zerolog.Logger, cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		logger.Warn().Msg("host key verification disabled, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	p := cfg.KnownHostsPath
	if p == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		p = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(p)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", p, err)
	}
	return cb, nil
}

func (s *SSH) Name() string { return s.name }

// Run executes the command through the remote user's shell. Arguments are
// quoted so they reach the program unchanged.
func (s *SSH) Run(ctx context.Context, c Command) ([]byte, error) {
	return s.exec(ctx, c.String(), renderShell(c), c.Stdin)
}

func (s *SSH) exec(ctx context.Context, display, script string, stdin []byte) ([]byte, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new ssh session: %w", err)
	}
	defer session.Close()

	var out lockedBuffer
	session.Stdout = &out
	session.Stderr = &out
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	s.logger.Debug().Str("cmd", display).Msg("exec")

	done := make(chan error, 1)
	go func() { done <- session.Run(shellPrelude + script) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// Run returns once the output copiers are done with out.
		<-done
		return out.Bytes(), ctx.Err()
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out.Bytes(), &ExitError{
				Command:  display,
				Code:     exitErr.ExitStatus(),
				Output:   out.String(),
				Underlay: err,
			}
		}
		return out.Bytes(), fmt.Errorf("%s: %w", display, err)
	}
	return out.Bytes(), nil
}

// lockedBuffer collects stdout and stderr, which the session copies from
// separate goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func (b *lockedBuffer) String() string { return string(b.Bytes()) }

func (s *SSH) Stat(ctx context.Context, path string) (FileInfo, error) {
	q := quote(path)
	script := fmt.Sprintf("[ -e %s ] || [ -L %s ] || exit %d; stat -c '%%F|%%a' -- %s", q, q, exitAbsent, q)
	out, err := s.exec(ctx, "stat "+path, script, nil)
	if err != nil {
		if ExitCode(err) == exitAbsent {
			return FileInfo{}, nil
		}
		return FileInfo{}, fmt.Errorf("stat %s: %s: %w", path, strings.TrimSpace(string(out)), err)
	}

	info, err := parseStat(string(out))
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.LinkTarget != "" {
		target, err := s.exec(ctx, "readlink "+path, "readlink -- "+quote(path), nil)
		if err != nil {
			return FileInfo{}, fmt.Errorf("readlink %s: %w", path, err)
		}
		info.LinkTarget = strings.TrimSpace(string(target))
	}
	return info, nil
}

// parseStat decodes the "%F|%a" stat format. For symlinks LinkTarget is set
// to a placeholder so the caller knows to resolve it.
func parseStat(out string) (FileInfo, error) {
	kind, perm, ok := strings.Cut(strings.TrimSpace(out), "|")
	if !ok {
		return FileInfo{}, fmt.Errorf("unexpected stat output %q", out)
	}
	mode, err := strconv.ParseUint(perm, 8, 32)
	if err != nil {
		return FileInfo{}, fmt.Errorf("parse mode %q: %w", perm, err)
	}
	info := FileInfo{Exists: true, Mode: fs.FileMode(mode)}
	switch kind {
	case "directory":
		info.IsDir = true
	case "symbolic link":
		info.LinkTarget = "?"
	}
	return info, nil
}

func (s *SSH) ReadFile(ctx context.Context, path string) ([]byte, error) {
	q := quote(path)
	script := fmt.Sprintf("[ -e %s ] || exit %d; cat -- %s", q, exitAbsent, q)
	out, err := s.exec(ctx, "cat "+path, script, nil)
	if err != nil {
		if ExitCode(err) == exitAbsent {
			return nil, fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("read %s: %s: %w", path, strings.TrimSpace(string(out)), err)
	}
	return out, nil
}

func (s *SSH) WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp := path + ".hostprov-tmp"
	script := fmt.Sprintf("mkdir -p -- %s && cat > %s && chmod %o %s && mv -f -- %s %s",
		quote(dir), quote(tmp), mode.Perm(), quote(tmp), quote(tmp), quote(path))
	if out, err := s.exec(ctx, "write "+path, script, data); err != nil {
		return fmt.Errorf("write %s: %s: %w", path, strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *SSH) Symlink(ctx context.Context, target, link string) error {
	script := "ln -sfn -- " + quote(target) + " " + quote(link)
	if out, err := s.exec(ctx, "ln "+link, script, nil); err != nil {
		return fmt.Errorf("symlink %s -> %s: %s: %w", link, target, strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *SSH) Remove(ctx context.Context, path string) error {
	if out, err := s.exec(ctx, "rm "+path, "rm -f -- "+quote(path), nil); err != nil {
		return fmt.Errorf("remove %s: %s: %w", path, strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *SSH) MkdirAll(ctx context.Context, path string, mode fs.FileMode) error {
	script := fmt.Sprintf("mkdir -p -m %o -- %s", mode.Perm(), quote(path))
	if out, err := s.exec(ctx, "mkdir "+path, script, nil); err != nil {
		return fmt.Errorf("mkdir %s: %s: %w", path, strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *SSH) Close() error {
	return s.client.Close()
}

// renderShell turns a Command into a POSIX shell line.
func renderShell(c Command) string {
	var b strings.Builder
	if c.Dir != "" {
		b.WriteString("cd " + quote(c.Dir) + " && ")
	}
	for _, kv := range c.Env {
		b.WriteString(quoteAssignment(kv) + " ")
	}
	b.WriteString(quote(c.Name))
	for _, a := range c.Args {
		b.WriteString(" " + quote(a))
	}
	return b.String()
}

// quote single-quotes s for a POSIX shell unless it only contains safe
// characters.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,@+%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func quoteAssignment(kv string) string {
	k, v, ok := strings.Cut(kv, "=")
	if !ok {
		return quote(kv)
	}
	return k + "=" + quote(v)
}
