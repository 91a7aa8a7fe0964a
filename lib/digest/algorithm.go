// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sort"
	"strings"

	"github.com/jzelinskie/whirlpool"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Algorithm is a named digest algorithm as it appears in manifest
// section headers. The zero value is not usable; obtain instances
// through [Lookup].
type Algorithm struct {
	name    string
	newHash func() (hash.Hash, error)
}

// Name returns the canonical upper-case manifest name, such as
// "BLAKE2B" or "SHA512".
func (a Algorithm) Name() string { return a.name }

// Available reports whether the runtime can construct a hasher for
// this algorithm. Manifest entries for unavailable algorithms are
// skipped during verification rather than treated as errors.
func (a Algorithm) Available() bool {
	if a.newHash == nil {
		return false
	}
	h, err := a.newHash()
	return err == nil && h != nil
}

// New constructs a fresh hasher for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	return a.newHash()
}

// registry maps canonical algorithm names to constructors. Gentoo
// manifests have carried SHA512 and WHIRLPOOL since the beginning and
// BLAKE2B since 2017; SHA256 and BLAKE3 appear in derived manifests.
var registry = map[string]func() (hash.Hash, error){
	"BLAKE2B": func() (hash.Hash, error) { return blake2b.New512(nil) },
	"SHA512":  func() (hash.Hash, error) { return sha512.New(), nil },
	"SHA256":  func() (hash.Hash, error) { return sha256.New(), nil },
	"BLAKE3":  func() (hash.Hash, error) { return blake3.New(), nil },
	"WHIRLPOOL": func() (hash.Hash, error) {
		return whirlpool.New(), nil
	},
}

// DefaultPreference is the order in which published digests are
// trusted when the caller does not express one. Stronger and faster
// algorithms come first; WHIRLPOOL is kept last for old manifests that
// carry nothing else.
var DefaultPreference = []string{"BLAKE2B", "SHA512", "SHA256", "BLAKE3", "WHIRLPOOL"}

// Lookup resolves an algorithm by manifest name, case-insensitively.
func Lookup(name string) (Algorithm, bool) {
	canonical := strings.ToUpper(strings.TrimSpace(name))
	ctor, ok := registry[canonical]
	if !ok {
		return Algorithm{}, false
	}
	return Algorithm{name: canonical, newHash: ctor}, true
}

// Supported returns the names of every algorithm this runtime can
// compute, sorted for stable output.
func Supported() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		if a, ok := Lookup(name); ok && a.Available() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
