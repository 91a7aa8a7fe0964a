// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config configures a [Verifier].
type Config struct {
	// Preference orders the algorithms the verifier will trust,
	// highest first. Defaults to [DefaultPreference].
	Preference []string

	// Logger receives one line per verification describing the
	// algorithm that decided the outcome. Defaults to [slog.Default].
	Logger *slog.Logger
}

// Verifier checks artifact bytes against published digests.
type Verifier struct {
	preference []string
	logger     *slog.Logger
}

// NewVerifier builds a Verifier, applying defaults for unset fields.
func NewVerifier(config Config) *Verifier {
	v := &Verifier{
		preference: config.Preference,
		logger:     config.Logger,
	}
	if len(v.preference) == 0 {
		v.preference = DefaultPreference
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

// Match records the algorithm and digest that authenticated an
// artifact.
type Match struct {
	Algorithm string
	Digest    string
}

// Mismatch records a computed digest that disagreed with the published
// value for one algorithm.
type Mismatch struct {
	Algorithm string
	Computed  string
	Published string
}

// MismatchError reports that every computable published digest was
// computed and none matched. The artifact is corrupt or tampered with
// and must not be used.
type MismatchError struct {
	Name       string
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = fmt.Sprintf("%s computed %s, published %s", m.Algorithm, m.Computed, m.Published)
	}
	return fmt.Sprintf("digest: %s: digest mismatch: %s", e.Name, strings.Join(parts, "; "))
}

// UnavailableError reports that no algorithm on the preference list
// was both published for the file and computable by this runtime, so
// no integrity decision could be made.
type UnavailableError struct {
	Name       string
	Preference []string
	Published  []string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("digest: %s: no usable digest algorithm (prefer %s, published %s)",
		e.Name, strings.Join(e.Preference, ","), strings.Join(e.Published, ","))
}

// VerifyFile opens path and verifies it against the digests the
// manifest publishes for its base name.
func (v *Verifier) VerifyFile(path string, manifest *Manifest) (Match, error) {
	f, err := os.Open(path)
	if err != nil {
		return Match{}, fmt.Errorf("digest: open artifact: %w", err)
	}
	defer f.Close()
	return v.Verify(f, path, manifest.DigestsFor(path))
}

// Verify streams r once, computing every preference-listed algorithm
// that published carries a digest for, then accepts the first match in
// preference order. name is used only for diagnostics. See the package
// documentation for the mismatch/unavailable distinction.
func (v *Verifier) Verify(r io.Reader, name string, published map[string]string) (Match, error) {
	type candidate struct {
		algo     Algorithm
		expected string
		hasher   hash.Hash
	}
	var candidates []candidate
	var taps []io.Writer
	for _, algoName := range v.preference {
		expected, ok := published[strings.ToUpper(algoName)]
		if !ok {
			continue
		}
		algo, ok := Lookup(algoName)
		if !ok || !algo.Available() {
			v.logger.Debug("skipping unavailable digest algorithm",
				"file", name, "algorithm", strings.ToUpper(algoName))
			continue
		}
		h, err := algo.New()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{algo: algo, expected: expected, hasher: h})
		taps = append(taps, h)
	}
	if len(candidates) == 0 {
		publishedNames := make([]string, 0, len(published))
		for algoName := range published {
			publishedNames = append(publishedNames, algoName)
		}
		return Match{}, &UnavailableError{
			Name:       name,
			Preference: v.preference,
			Published:  publishedNames,
		}
	}

	if _, err := io.Copy(io.MultiWriter(taps...), r); err != nil {
		return Match{}, fmt.Errorf("digest: reading %s: %w", name, err)
	}

	var mismatches []Mismatch
	for _, c := range candidates {
		computed := hex.EncodeToString(c.hasher.Sum(nil))
		if computed == strings.ToLower(c.expected) {
			for _, m := range mismatches {
				v.logger.Warn("higher-preference digest disagreed with manifest",
					"file", name, "algorithm", m.Algorithm)
			}
			v.logger.Info("artifact digest verified",
				"file", name, "algorithm", c.algo.Name())
			return Match{Algorithm: c.algo.Name(), Digest: computed}, nil
		}
		mismatches = append(mismatches, Mismatch{
			Algorithm: c.algo.Name(),
			Computed:  computed,
			Published: strings.ToLower(c.expected),
		})
	}
	return Match{}, &MismatchError{Name: name, Mismatches: mismatches}
}
