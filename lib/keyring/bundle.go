// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"golang.org/x/crypto/openpgp"
)

// Default trust anchors, compiled into the binary. Key material is
// materialized by Refresh, never vendored.
//
//go:embed keys/gentoo-release.jsonc
var defaultBundle []byte

// bundle is the on-disk trust anchor format. Files may carry JSONC
// comments; they are written back as plain JSON.
type bundle struct {
	RefreshURL  string      `json:"refresh_url"`
	RefreshedAt time.Time   `json:"refreshed_at,omitempty"`
	Keys        []bundleKey `json:"keys"`
}

type bundleKey struct {
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	NotBefore   time.Time `json:"not_before,omitempty"`
	NotAfter    time.Time `json:"not_after,omitempty"`
	ArmoredKey  string    `json:"armored_key"`
}

// validAt reports whether the declared window contains now. A zero
// bound is unbounded on that side.
func (k bundleKey) validAt(now time.Time) bool {
	if !k.NotBefore.IsZero() && now.Before(k.NotBefore) {
		return false
	}
	if !k.NotAfter.IsZero() && !now.Before(k.NotAfter) {
		return false
	}
	return true
}

func parseBundle(data []byte) (*bundle, error) {
	var b bundle
	if err := json.Unmarshal(jsonc.ToJSON(data), &b); err != nil {
		return nil, fmt.Errorf("keyring: parsing bundle: %w", err)
	}
	if len(b.Keys) == 0 {
		return nil, fmt.Errorf("keyring: bundle declares no keys")
	}
	seen := make(map[string]bool)
	for i := range b.Keys {
		fp := canonicalFingerprint(b.Keys[i].Fingerprint)
		if len(fp) != 40 {
			return nil, fmt.Errorf("keyring: bundle key %q: malformed fingerprint %q",
				b.Keys[i].Name, b.Keys[i].Fingerprint)
		}
		if seen[fp] {
			return nil, fmt.Errorf("keyring: bundle declares fingerprint %s twice", fp)
		}
		seen[fp] = true
		b.Keys[i].Fingerprint = fp
	}
	return &b, nil
}

func loadBundle(path string) (*bundle, error) {
	if path == "" {
		return parseBundle(defaultBundle)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyring: reading bundle: %w", err)
	}
	return parseBundle(data)
}

// save writes the bundle as indented JSON. Comments from a hand-edited
// JSONC file are not preserved.
func (b *bundle) save(path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("keyring: encoding bundle: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("keyring: writing bundle: %w", err)
	}
	return nil
}

// entities parses the materialized key material of every bundle entry
// and checks each parsed key against its declared fingerprint. Entries
// with empty material are skipped; Verify reports them through
// [KeyInfo.Materialized] instead.
func (b *bundle) entities() (openpgp.EntityList, error) {
	var list openpgp.EntityList
	for _, key := range b.Keys {
		if key.ArmoredKey == "" {
			continue
		}
		parsed, err := openpgp.ReadArmoredKeyRing(strings.NewReader(key.ArmoredKey))
		if err != nil {
			return nil, fmt.Errorf("keyring: parsing key %q: %w", key.Name, err)
		}
		for _, entity := range parsed {
			fp := entityFingerprint(entity)
			if fp != key.Fingerprint {
				return nil, fmt.Errorf("keyring: key %q: material fingerprint %s does not match declared %s",
					key.Name, fp, key.Fingerprint)
			}
			list = append(list, entity)
		}
	}
	return list, nil
}

func canonicalFingerprint(fp string) string {
	return strings.ToUpper(strings.Join(strings.Fields(fp), ""))
}

func entityFingerprint(entity *openpgp.Entity) string {
	return canonicalFingerprint(fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint[:]))
}

// readKeyRing parses either an armored or a binary OpenPGP keyring,
// sniffing the armor header. Published keyrings come in both forms.
func readKeyRing(data []byte) (openpgp.EntityList, error) {
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("-----BEGIN")) {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(data))
}
