// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MarkerName is the provenance record written into the root of an
// extracted tree. Its presence is what distinguishes "bootstrapped
// tree" from "directory that happens to contain files".
const MarkerName = ".stagehand-stage3"

// Marker records where an extracted tree came from and how it was
// authenticated.
type Marker struct {
	// Artifact is the tarball base name.
	Artifact string `cbor:"artifact"`

	// ReleasePath is the artifact's mirror-relative path.
	ReleasePath string `cbor:"release_path"`

	// Algorithm and Digest identify the published digest that
	// authenticated the artifact.
	Algorithm string `cbor:"algorithm"`
	Digest    string `cbor:"digest"`

	// ContentHash is the BLAKE3 hash of the artifact bytes, computed
	// locally during verification. Unlike Digest it does not depend
	// on what the mirror chose to publish.
	ContentHash string `cbor:"content_hash"`

	// Signer is the fingerprint of the key that signed the digest
	// manifest.
	Signer string `cbor:"signer"`

	// ExtractedAt is when extraction finished, second precision.
	ExtractedAt time.Time `cbor:"extracted_at"`

	// Version is the stagehand version that performed the
	// extraction.
	Version string `cbor:"version"`

	// Files is the number of regular files extracted.
	Files int `cbor:"files"`
}

// markerEnc uses Core Deterministic Encoding so identical provenance
// always produces identical marker bytes.
var markerEnc cbor.EncMode

var markerDec cbor.DecMode

func init() {
	var err error
	markerEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("stage: CBOR encoder initialization failed: " + err.Error())
	}
	markerDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("stage: CBOR decoder initialization failed: " + err.Error())
	}
}

// WriteMarker records provenance in the tree root.
func WriteMarker(tree string, marker Marker) error {
	data, err := markerEnc.Marshal(marker)
	if err != nil {
		return fmt.Errorf("stage: encoding marker: %w", err)
	}
	path := filepath.Join(tree, MarkerName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("stage: writing marker: %w", err)
	}
	return nil
}

// ReadMarker loads the tree's provenance record. A missing marker is
// (nil, false, nil); a marker that exists but cannot be decoded is an
// error, because silently treating a damaged tree as unbootstrapped
// invites wiping something that was in use.
func ReadMarker(tree string) (*Marker, bool, error) {
	data, err := os.ReadFile(filepath.Join(tree, MarkerName))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stage: reading marker: %w", err)
	}
	var marker Marker
	if err := markerDec.Unmarshal(data, &marker); err != nil {
		return nil, false, fmt.Errorf("stage: decoding marker: %w", err)
	}
	return &marker, true, nil
}
