// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package chroot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

// proxyVars pass through to the chroot so package downloads work
// behind a proxy. Both spellings are honored because portage tools
// read the lower-case forms and some fetch backends the upper-case
// ones.
var proxyVars = []string{
	"http_proxy", "https_proxy", "ftp_proxy", "no_proxy",
	"HTTP_PROXY", "HTTPS_PROXY", "FTP_PROXY", "NO_PROXY",
}

// Config configures an [Executor].
type Config struct {
	// Tree is the chroot root. Required, absolute.
	Tree string

	// Shell is the in-tree shell used for scripts and interactive
	// sessions. Defaults to /bin/bash.
	Shell string

	// Env adds environment variables inside the chroot, on top of
	// the built-in minimal set.
	Env map[string]string

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Executor runs commands inside one target tree.
type Executor struct {
	tree   string
	shell  string
	env    map[string]string
	logger *slog.Logger
}

// ExitError represents a non-zero exit from a command inside the
// chroot.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("chroot: command exited with code %d", e.Code)
}

// StartError reports that a command never started, as opposed to
// starting and exiting non-zero. Typical causes are a missing shell
// inside the tree or running without CAP_SYS_CHROOT.
type StartError struct {
	Tree string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("chroot: starting command in %s: %v", e.Tree, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// IsExitError reports whether err's chain carries an ExitError and
// returns the code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// New builds an Executor, applying defaults for unset fields.
func New(config Config) (*Executor, error) {
	if config.Tree == "" {
		return nil, fmt.Errorf("chroot: Config.Tree is required")
	}
	if !filepath.IsAbs(config.Tree) {
		return nil, fmt.Errorf("chroot: Config.Tree must be absolute, got %q", config.Tree)
	}
	e := &Executor{
		tree:   filepath.Clean(config.Tree),
		shell:  config.Shell,
		env:    config.Env,
		logger: config.Logger,
	}
	if e.shell == "" {
		e.shell = "/bin/bash"
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Tree returns the chroot root.
func (e *Executor) Tree() string { return e.tree }

// Command builds the exec.Cmd for a script without running it. Useful
// for custom I/O handling or testing. The script runs through the
// tree's shell with /etc/profile sourced first, matching what a login
// shell would see.
func (e *Executor) Command(ctx context.Context, script string) *exec.Cmd {
	return e.build(ctx, e.shell, "-c", "source /etc/profile && "+script)
}

// ShellCommand builds the exec.Cmd for an interactive login shell
// without running it.
func (e *Executor) ShellCommand(ctx context.Context) *exec.Cmd {
	return e.build(ctx, e.shell, "-l")
}

// Run executes a script inside the tree with the caller's standard
// streams. A non-zero exit comes back as [ExitError]; failure to start
// at all (missing shell, not root) comes back as [StartError].
func (e *Executor) Run(ctx context.Context, script string) error {
	e.logger.Info("running in chroot", "tree", e.tree, "script", script)
	return e.runCmd(e.Command(ctx, script))
}

// Output executes a script inside the tree and returns its trimmed
// standard output. Standard error still goes to the caller's stderr.
func (e *Executor) Output(ctx context.Context, script string) (string, error) {
	e.logger.Debug("querying in chroot", "tree", e.tree, "script", script)
	cmd := e.Command(ctx, script)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", &ExitError{Code: exitErr.ExitCode()}
		}
		return "", &StartError{Tree: e.tree, Err: err}
	}
	return strings.TrimSpace(string(out)), nil
}

// Shell hands the terminal to an interactive login shell inside the
// tree.
func (e *Executor) Shell(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		e.logger.Warn("stdin is not a terminal; interactive shell may misbehave")
	}
	e.logger.Info("starting interactive shell", "tree", e.tree, "shell", e.shell)
	return e.runCmd(e.ShellCommand(ctx))
}

func (e *Executor) runCmd(cmd *exec.Cmd) error {
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			if code < 0 {
				// Killed by a signal. Report the shell convention
				// (128+N) so SIGINT surfaces as 130.
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					code = 128 + int(status.Signal())
				}
			}
			return &ExitError{Code: code}
		}
		return &StartError{Tree: e.tree, Err: err}
	}
	return nil
}

func (e *Executor) build(ctx context.Context, argv ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = "/"
	cmd.Env = e.environment()
	// The child stays in our process group. An interactive shell must
	// share the terminal's foreground group to read from it, and bash
	// manages its own job-control groups from there.
	cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: e.tree}
	// Cancellation sends SIGTERM rather than the default SIGKILL,
	// giving the shell a chance to reset the terminal. WaitDelay
	// bounds a child that ignores it.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second
	return cmd
}

// safeArg characters need no quoting in a POSIX shell.
var safeArg = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

// Quote joins args into a single shell command string with each
// argument quoted, so an argv can be passed through the tree's shell
// verbatim.
func Quote(args ...string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if safeArg.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// environment builds the child environment from scratch. If cmd.Env
// were left nil, Go would hand the chroot the full host environment of
// a root process.
func (e *Executor) environment() []string {
	env := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/root",
		"SHELL=" + e.shell,
		"TERM=" + os.Getenv("TERM"),
	}
	for _, key := range proxyVars {
		if value := os.Getenv(key); value != "" {
			env = append(env, key+"="+value)
		}
	}
	extra := make([]string, 0, len(e.env))
	for key, value := range e.env {
		extra = append(extra, key+"="+value)
	}
	sort.Strings(extra)
	return append(env, extra...)
}
