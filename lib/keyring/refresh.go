// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	"github.com/stagehand-project/stagehand/lib/version"
)

// maxKeyringBytes bounds a refresh download. Published keyrings are a
// few hundred kilobytes; anything near this limit is not a keyring.
const maxKeyringBytes = 32 << 20

// Refresh downloads the published keyring from the bundle's refresh
// URL and materializes every declared entry whose fingerprint appears
// in the download. Downloaded keys that no entry declares are ignored,
// so a compromised download location cannot introduce new signers.
// Returns the number of entries materialized. The updated bundle is
// only in memory until [Keyring.Save].
func (k *Keyring) Refresh(ctx context.Context) (int, error) {
	if k.bundle.RefreshURL == "" {
		return 0, fmt.Errorf("keyring: bundle declares no refresh URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.bundle.RefreshURL, nil)
	if err != nil {
		return 0, fmt.Errorf("keyring: building refresh request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("keyring: fetching %s: %w", k.bundle.RefreshURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("keyring: fetching %s: unexpected status %s", k.bundle.RefreshURL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyringBytes))
	if err != nil {
		return 0, fmt.Errorf("keyring: reading keyring download: %w", err)
	}

	downloaded, err := readKeyRing(data)
	if err != nil {
		return 0, fmt.Errorf("keyring: parsing downloaded keyring: %w", err)
	}
	byFingerprint := make(map[string]*openpgp.Entity, len(downloaded))
	for _, entity := range downloaded {
		byFingerprint[entityFingerprint(entity)] = entity
	}

	materialized := 0
	for i := range k.bundle.Keys {
		declared := &k.bundle.Keys[i]
		entity, ok := byFingerprint[declared.Fingerprint]
		if !ok {
			k.logger.Warn("declared key missing from downloaded keyring",
				"name", declared.Name, "fingerprint", declared.Fingerprint)
			continue
		}
		armored, err := armorEntity(entity)
		if err != nil {
			return materialized, fmt.Errorf("keyring: encoding key %q: %w", declared.Name, err)
		}
		declared.ArmoredKey = armored
		materialized++
		k.logger.Info("trust anchor materialized",
			"name", declared.Name, "fingerprint", declared.Fingerprint)
	}

	entities, err := k.bundle.entities()
	if err != nil {
		return materialized, err
	}
	k.entities = entities
	k.bundle.RefreshedAt = k.clock.Now()
	return materialized, nil
}

// Save writes the bundle back to disk. With an empty path the bundle's
// load path is reused; saving a keyring loaded from the embedded
// default requires an explicit path.
func (k *Keyring) Save(path string) error {
	if path == "" {
		path = k.bundlePath
	}
	if path == "" {
		return fmt.Errorf("keyring: no bundle path to save to")
	}
	return k.bundle.save(path)
}

// armorEntity serializes an entity's public part as an armored key
// block.
func armorEntity(entity *openpgp.Entity) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := entity.Serialize(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
