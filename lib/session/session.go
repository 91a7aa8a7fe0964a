// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stagehand-project/stagehand/lib/chroot"
	"github.com/stagehand-project/stagehand/lib/mount"
	"github.com/stagehand-project/stagehand/lib/stage"
)

// State identifies where in its lifecycle a session is.
type State int

const (
	// StateIdle is before entry and after teardown.
	StateIdle State = iota

	// StatePreparing verifies the target tree's provenance.
	StatePreparing

	// StateMounted has the mount table established.
	StateMounted

	// StateRunning has handed control to the command.
	StateRunning

	// StateUnmounting is tearing the mount table down.
	StateUnmounting
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateMounted:
		return "mounted"
	case StateRunning:
		return "running"
	case StateUnmounting:
		return "unmounting"
	default:
		return "unknown"
	}
}

// MountTable is the slice of [mount.Manager] the controller drives.
// Nothing outside this package calls its mutating operations.
type MountTable interface {
	BindAll() error
	UnbindAll() error
}

var _ MountTable = (*mount.Manager)(nil)

// Runner executes commands inside the mounted tree.
type Runner interface {
	Run(ctx context.Context, script string) error
	Shell(ctx context.Context) error
	Tree() string
}

var _ Runner = (*chroot.Executor)(nil)

// NotBootstrappedError reports a session entry against a tree that
// carries no extraction marker. Entry never triggers acquisition;
// bootstrapping is its own operation.
type NotBootstrappedError struct {
	Tree string
}

func (e *NotBootstrappedError) Error() string {
	return fmt.Sprintf("session: tree %s is not bootstrapped (run bootstrap first)", e.Tree)
}

// Config configures a [Controller].
type Config struct {
	// Mounts establishes and tears down the session mount table.
	// Required.
	Mounts MountTable

	// Runner executes the session's command inside the tree. Required.
	Runner Runner

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Controller drives sessions through their lifecycle.
type Controller struct {
	mounts MountTable
	runner Runner
	logger *slog.Logger
}

// New builds a Controller, applying defaults for unset fields.
func New(config Config) (*Controller, error) {
	if config.Mounts == nil {
		return nil, fmt.Errorf("session: Config.Mounts is required")
	}
	if config.Runner == nil {
		return nil, fmt.Errorf("session: Config.Runner is required")
	}
	c := &Controller{
		mounts: config.Mounts,
		runner: config.Runner,
		logger: config.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Shell runs an interactive login shell as a session.
func (c *Controller) Shell(ctx context.Context) error {
	return c.session(ctx, "shell", c.runner.Shell)
}

// Run runs a shell script as a session. A non-zero exit from the
// script comes back unchanged as a [chroot.ExitError]; it is the
// session's result, not a session failure.
func (c *Controller) Run(ctx context.Context, script string) error {
	return c.session(ctx, "script", func(ctx context.Context) error {
		return c.runner.Run(ctx, script)
	})
}

// Exec runs a command line as a session, quoting each argument so the
// argv passes through the tree's shell verbatim.
func (c *Controller) Exec(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("session: empty command")
	}
	return c.session(ctx, "command", func(ctx context.Context) error {
		return c.runner.Run(ctx, chroot.Quote(argv...))
	})
}

// Do runs fn as a session: the tree's provenance is verified and the
// mount table is up for the duration of fn. For operations that
// compose several in-tree commands, such as a portage sync.
func (c *Controller) Do(ctx context.Context, kind string, fn func(context.Context) error) error {
	return c.session(ctx, kind, fn)
}

// session drives one entry through the state machine. The mount table
// teardown is deferred as soon as the table is established, so every
// way out of Running unwinds it, including interrupts and panics.
func (c *Controller) session(ctx context.Context, kind string, action func(context.Context) error) (err error) {
	id := uuid.New().String()
	logger := c.logger.With("session", id, "tree", c.runner.Tree())
	logger.Info("session entered", "kind", kind)
	logger.Debug("session state", "state", StatePreparing)

	if err := c.ensureBootstrapped(logger); err != nil {
		return err
	}

	if err := c.mounts.BindAll(); err != nil {
		// BindAll has unwound its own partial work. The full sweep
		// also catches mounts left bound by an earlier invocation; a
		// failure there is secondary to the bind failure.
		logger.Debug("session state", "state", StateUnmounting)
		if unbindErr := c.mounts.UnbindAll(); unbindErr != nil {
			logger.Error("teardown incomplete after failed mount setup",
				"error", unbindErr)
		}
		return err
	}
	logger.Debug("session state", "state", StateMounted)

	defer func() {
		logger.Debug("session state", "state", StateUnmounting)
		teardownErr := c.mounts.UnbindAll()
		switch {
		case teardownErr == nil:
			logger.Info("session closed", "state", StateIdle)
		case err == nil:
			// The run was clean, so the leaked mount is the result.
			err = teardownErr
		default:
			logger.Error("teardown incomplete after failed run",
				"error", teardownErr)
		}
	}()

	logger.Debug("session state", "state", StateRunning)
	err = action(ctx)
	if ctx.Err() != nil {
		// The run ended because the invocation was cancelled. Report
		// the interrupt, not whatever exit the dying command managed.
		return fmt.Errorf("session %s interrupted: %w", kind, ctx.Err())
	}
	return err
}

// ensureBootstrapped verifies the tree carries an extraction marker. A
// marker that exists but cannot be read fails the entry: a damaged
// tree needs an operator, not a session on top of it.
func (c *Controller) ensureBootstrapped(logger *slog.Logger) error {
	tree := c.runner.Tree()
	marker, ok, err := stage.ReadMarker(tree)
	if err != nil {
		return err
	}
	if !ok {
		return &NotBootstrappedError{Tree: tree}
	}
	logger.Debug("tree provenance verified",
		"artifact", marker.Artifact, "extracted_at", marker.ExtractedAt)
	return nil
}
