// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/stagehand-project/stagehand/lib/clock"
	"github.com/stagehand-project/stagehand/lib/digest"
	"github.com/stagehand-project/stagehand/lib/keyring"
	"github.com/stagehand-project/stagehand/lib/mirror"
	"github.com/stagehand-project/stagehand/lib/version"
)

// Config configures a [Pipeline].
type Config struct {
	// Mirror fetches pointers, manifests, and artifacts. Required.
	Mirror *mirror.Client

	// Keyring authenticates digest manifests. Required.
	Keyring *keyring.Keyring

	// Verifier checks artifact digests. Defaults to a verifier with
	// the default algorithm preference.
	Verifier *digest.Verifier

	// WorkDir stages downloads. Required.
	WorkDir string

	// Tree is the extraction target. Required.
	Tree string

	// Channel selects the release pointer, for example
	// "stage3-amd64-openrc". Required unless Release pins a path.
	Channel string

	// Release optionally pins a mirror-relative artifact path,
	// bypassing pointer resolution.
	Release string

	// Force wipes a non-empty target tree instead of refusing, and
	// re-bootstraps over an existing marker.
	Force bool

	// Clock stamps the marker. Defaults to [clock.Real].
	Clock clock.Clock

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Pipeline bootstraps a target tree from a verified release artifact.
type Pipeline struct {
	mirror    *mirror.Client
	keyring   *keyring.Keyring
	verifier  *digest.Verifier
	extractor *Extractor
	workDir   string
	tree      string
	channel   string
	release   string
	force     bool
	clock     clock.Clock
	logger    *slog.Logger
}

// AcquireError reports a failure to fetch something needed for
// bootstrap. Network trouble and mirror trouble land here; integrity
// and authenticity failures have their own types in the digest and
// keyring packages.
type AcquireError struct {
	Step string
	Err  error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("stage: acquiring %s: %v", e.Step, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// TreeNotEmptyError reports a target tree that contains files but no
// extraction marker. Bootstrap refuses to guess whether it owns such a
// tree.
type TreeNotEmptyError struct {
	Tree string
}

func (e *TreeNotEmptyError) Error() string {
	return fmt.Sprintf("stage: target tree %s is not empty and has no extraction marker (use force to wipe it)", e.Tree)
}

// NewPipeline builds a Pipeline, applying defaults for unset fields.
func NewPipeline(config Config) (*Pipeline, error) {
	if config.Mirror == nil {
		return nil, fmt.Errorf("stage: Config.Mirror is required")
	}
	if config.Keyring == nil {
		return nil, fmt.Errorf("stage: Config.Keyring is required")
	}
	if config.WorkDir == "" {
		return nil, fmt.Errorf("stage: Config.WorkDir is required")
	}
	if config.Tree == "" {
		return nil, fmt.Errorf("stage: Config.Tree is required")
	}
	if config.Channel == "" && config.Release == "" {
		return nil, fmt.Errorf("stage: one of Config.Channel or Config.Release is required")
	}
	p := &Pipeline{
		mirror:   config.Mirror,
		keyring:  config.Keyring,
		verifier: config.Verifier,
		workDir:  config.WorkDir,
		tree:     config.Tree,
		channel:  config.Channel,
		release:  config.Release,
		force:    config.Force,
		clock:    config.Clock,
		logger:   config.Logger,
	}
	if p.verifier == nil {
		p.verifier = digest.NewVerifier(digest.Config{Logger: config.Logger})
	}
	if p.clock == nil {
		p.clock = clock.Real()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.extractor = NewExtractor(ExtractorConfig{Logger: p.logger})
	return p, nil
}

// Bootstrap runs acquisition, verification, and extraction, returning
// the tree's provenance marker and whether an extraction was actually
// performed. A tree that already carries a marker is returned as-is,
// with performed false, unless the pipeline was configured with Force.
func (p *Pipeline) Bootstrap(ctx context.Context) (marker *Marker, performed bool, err error) {
	existing, marked, err := ReadMarker(p.tree)
	if err != nil && !p.force {
		return nil, false, fmt.Errorf("%w (use force to rebuild)", err)
	}
	if marked && !p.force {
		p.logger.Info("target tree already bootstrapped",
			"tree", p.tree, "artifact", existing.Artifact,
			"extracted_at", existing.ExtractedAt)
		return existing, false, nil
	}

	release, err := p.resolveRelease(ctx)
	if err != nil {
		return nil, false, err
	}
	p.logger.Info("bootstrapping", "tree", p.tree, "artifact", release.Name)

	manifestRaw, err := p.mirror.Fetch(ctx, release.DigestsPath())
	if err != nil {
		return nil, false, &AcquireError{Step: "digest manifest", Err: err}
	}
	manifest, err := digest.ParseManifest(bytes.NewReader(manifestRaw))
	if err != nil {
		return nil, false, err
	}

	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("stage: creating work dir: %w", err)
	}
	artifactPath := filepath.Join(p.workDir, release.Name)
	// Keep the signed manifest beside the artifact for later audit.
	if err := os.WriteFile(artifactPath+".DIGESTS.asc", manifestRaw, 0o644); err != nil {
		return nil, false, fmt.Errorf("stage: writing manifest: %w", err)
	}
	if _, err := p.mirror.Download(ctx, release.Path, artifactPath); err != nil {
		return nil, false, &AcquireError{Step: release.Name, Err: err}
	}
	// The file listing is an audit aid kept beside the artifact; it
	// plays no part in verification.
	if _, err := p.mirror.Download(ctx, release.ContentsPath(), artifactPath+".CONTENTS.gz"); err != nil {
		p.logger.Warn("contents listing unavailable", "release", release.Name, "error", err)
	}

	// Digest first: transfer corruption surfaces before any question
	// of authenticity. The signature over the manifest is what makes
	// a matching digest worth extracting.
	contentHash, match, err := p.verifyArtifact(artifactPath, manifest)
	if err != nil {
		return nil, false, err
	}
	_, signer, err := p.keyring.Verify(manifestRaw)
	if err != nil {
		return nil, false, err
	}

	if err := p.prepareTree(); err != nil {
		return nil, false, err
	}
	stats, err := p.extractor.Extract(ctx, artifactPath, p.tree)
	if err != nil {
		return nil, false, err
	}

	result := Marker{
		Artifact:    release.Name,
		ReleasePath: release.Path,
		Algorithm:   match.Algorithm,
		Digest:      match.Digest,
		ContentHash: contentHash,
		Signer:      signer.Fingerprint,
		ExtractedAt: p.clock.Now().UTC().Truncate(time.Second),
		Version:     version.Short(),
		Files:       stats.Files,
	}
	if err := WriteMarker(p.tree, result); err != nil {
		return nil, false, err
	}
	p.logger.Info("bootstrap complete",
		"tree", p.tree, "artifact", release.Name,
		"algorithm", match.Algorithm, "signer", signer.Fingerprint)
	return &result, true, nil
}

// Status describes the bootstrap state of the target tree.
type Status struct {
	Tree     string
	Exists   bool
	Empty    bool
	Marker   *Marker
	Artifact string // staged artifact path, empty if absent
}

// Status inspects the target tree and staging directory without
// touching the network.
func (p *Pipeline) Status() (Status, error) {
	status := Status{Tree: p.tree}
	entries, err := os.ReadDir(p.tree)
	switch {
	case os.IsNotExist(err):
		status.Empty = true
		return status, nil
	case err != nil:
		return status, fmt.Errorf("stage: reading tree: %w", err)
	}
	status.Exists = true
	status.Empty = len(entries) == 0

	marker, marked, err := ReadMarker(p.tree)
	if err != nil {
		return status, err
	}
	if marked {
		status.Marker = marker
		staged := filepath.Join(p.workDir, marker.Artifact)
		if _, err := os.Stat(staged); err == nil {
			status.Artifact = staged
		}
	}
	return status, nil
}

// CleanWorkDir removes staged artifacts, manifests, and leftover
// partial downloads. Returns the removed file names.
func (p *Pipeline) CleanWorkDir() ([]string, error) {
	entries, err := os.ReadDir(p.workDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stage: reading work dir: %w", err)
	}
	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.Contains(name, ".tar") && !strings.HasSuffix(name, ".part") &&
			!strings.HasSuffix(name, ".DIGESTS.asc") && !strings.HasSuffix(name, ".CONTENTS.gz") {
			continue
		}
		if err := os.Remove(filepath.Join(p.workDir, name)); err != nil {
			return removed, fmt.Errorf("stage: removing %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	p.logger.Info("staging directory cleaned", "dir", p.workDir, "removed", len(removed))
	return removed, nil
}

func (p *Pipeline) resolveRelease(ctx context.Context) (mirror.Release, error) {
	if p.release != "" {
		p.logger.Info("using pinned release", "path", p.release)
		return mirror.Release{Path: p.release, Name: path.Base(p.release)}, nil
	}
	release, err := p.mirror.ResolveLatest(ctx, p.channel)
	if err != nil {
		return mirror.Release{}, &AcquireError{Step: "release pointer", Err: err}
	}
	return release, nil
}

// verifyArtifact streams the artifact once, checking published digests
// and computing the local BLAKE3 content hash in the same pass. A
// digest mismatch deletes the artifact so the next run downloads fresh
// bytes instead of re-verifying known-bad ones.
func (p *Pipeline) verifyArtifact(artifactPath string, manifest *digest.Manifest) (string, digest.Match, error) {
	f, err := os.Open(artifactPath)
	if err != nil {
		return "", digest.Match{}, fmt.Errorf("stage: opening artifact: %w", err)
	}
	defer f.Close()

	hasher := blake3.New()
	match, err := p.verifier.Verify(io.TeeReader(f, hasher), artifactPath, manifest.DigestsFor(artifactPath))
	if err != nil {
		var mismatch *digest.MismatchError
		if errors.As(err, &mismatch) {
			p.logger.Error("artifact failed digest verification, deleting",
				"file", artifactPath)
			if rmErr := os.Remove(artifactPath); rmErr != nil {
				return "", digest.Match{}, errors.Join(err, rmErr)
			}
		}
		return "", digest.Match{}, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), match, nil
}

// prepareTree makes the target tree a safe extraction destination:
// created if missing, accepted if empty, wiped if marked or forced,
// refused otherwise.
func (p *Pipeline) prepareTree() error {
	if err := os.MkdirAll(p.tree, 0o755); err != nil {
		return fmt.Errorf("stage: creating tree: %w", err)
	}
	entries, err := os.ReadDir(p.tree)
	if err != nil {
		return fmt.Errorf("stage: reading tree: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	_, marked, err := ReadMarker(p.tree)
	if err != nil && !p.force {
		return err
	}
	if !marked && !p.force {
		return &TreeNotEmptyError{Tree: p.tree}
	}
	p.logger.Warn("wiping target tree", "tree", p.tree, "entries", len(entries))
	return wipeTree(p.tree)
}

// wipeTree removes the children of tree, leaving the directory itself
// (and thus anything mounted on it) in place. Shallow paths are
// refused outright: no configuration mistake should point a wipe at
// "/usr".
func wipeTree(tree string) error {
	clean := filepath.Clean(tree)
	if !filepath.IsAbs(clean) || strings.Count(clean, "/") < 2 {
		return fmt.Errorf("stage: refusing to wipe %q", tree)
	}
	entries, err := os.ReadDir(clean)
	if err != nil {
		return fmt.Errorf("stage: reading tree: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(clean, entry.Name())); err != nil {
			return fmt.Errorf("stage: wiping tree: %w", err)
		}
	}
	return nil
}
