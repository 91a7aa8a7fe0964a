// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package keyring

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/clearsign"
	pgperrors "golang.org/x/crypto/openpgp/errors"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/stagehand-project/stagehand/lib/clock"
)

// Config configures a [Keyring].
type Config struct {
	// BundlePath locates the trust anchor bundle. Empty selects the
	// embedded default bundle.
	BundlePath string

	// Clock decides key validity. Defaults to [clock.Real].
	Clock clock.Clock

	// HTTPClient performs Refresh downloads. Defaults to a client
	// with a 60 second timeout.
	HTTPClient *http.Client

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Keyring verifies clearsigned manifests against the declared keys of
// a trust bundle.
type Keyring struct {
	bundle     *bundle
	bundlePath string
	entities   openpgp.EntityList
	clock      clock.Clock
	httpClient *http.Client
	logger     *slog.Logger
}

// Signer identifies the key that produced an accepted signature.
type Signer struct {
	Name        string
	Fingerprint string
	KeyID       string
}

// KeyInfo describes one declared trust anchor for display.
type KeyInfo struct {
	Name         string
	Fingerprint  string
	NotBefore    time.Time
	NotAfter     time.Time
	Materialized bool
}

// SignatureInvalidError reports a signature that does not verify
// against any declared key: tampered content, a malformed signature,
// or a signer the bundle has never heard of.
type SignatureInvalidError struct {
	Reason string
	Err    error
}

func (e *SignatureInvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keyring: signature invalid: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("keyring: signature invalid: %s", e.Reason)
}

func (e *SignatureInvalidError) Unwrap() error { return e.Err }

// KeyExpiredError reports a signature by a declared key that is
// outside its declared validity window. Distinct from
// [SignatureInvalidError] because the usual remedy is refreshing the
// bundle, not distrusting the mirror.
type KeyExpiredError struct {
	Name        string
	Fingerprint string
	NotBefore   time.Time
	NotAfter    time.Time
	Now         time.Time
}

func (e *KeyExpiredError) Error() string {
	if !e.NotBefore.IsZero() && e.Now.Before(e.NotBefore) {
		return fmt.Sprintf("keyring: key %q (%s) not valid until %s",
			e.Name, e.Fingerprint, e.NotBefore.Format(time.RFC3339))
	}
	return fmt.Sprintf("keyring: key %q (%s) expired %s",
		e.Name, e.Fingerprint, e.NotAfter.Format(time.RFC3339))
}

// New loads the trust bundle and parses its materialized keys.
func New(config Config) (*Keyring, error) {
	b, err := loadBundle(config.BundlePath)
	if err != nil {
		return nil, err
	}
	entities, err := b.entities()
	if err != nil {
		return nil, err
	}
	k := &Keyring{
		bundle:     b,
		bundlePath: config.BundlePath,
		entities:   entities,
		clock:      config.Clock,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
	}
	if k.clock == nil {
		k.clock = clock.Real()
	}
	if k.httpClient == nil {
		k.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if k.logger == nil {
		k.logger = slog.Default()
	}
	return k, nil
}

// Keys lists the declared trust anchors in bundle order.
func (k *Keyring) Keys() []KeyInfo {
	infos := make([]KeyInfo, len(k.bundle.Keys))
	for i, key := range k.bundle.Keys {
		infos[i] = KeyInfo{
			Name:         key.Name,
			Fingerprint:  key.Fingerprint,
			NotBefore:    key.NotBefore,
			NotAfter:     key.NotAfter,
			Materialized: key.ArmoredKey != "",
		}
	}
	return infos
}

// RefreshURL returns the bundle's declared keyring download location.
func (k *Keyring) RefreshURL() string { return k.bundle.RefreshURL }

// RefreshedAt returns when the bundle material was last refreshed, or
// the zero time if never.
func (k *Keyring) RefreshedAt() time.Time { return k.bundle.RefreshedAt }

// Verify checks a clearsigned message and returns its plaintext and
// the signer. Only keys whose declared validity window contains the
// current time may authenticate; a signature by a declared key outside
// its window yields [KeyExpiredError], everything else that fails
// yields [SignatureInvalidError].
func (k *Keyring) Verify(clearsigned []byte) ([]byte, Signer, error) {
	block, _ := clearsign.Decode(clearsigned)
	if block == nil {
		return nil, Signer{}, &SignatureInvalidError{Reason: "no clearsigned message found"}
	}
	if len(k.entities) == 0 {
		return nil, Signer{}, &SignatureInvalidError{
			Reason: "no key material in bundle (run `stagehand keys refresh`)",
		}
	}
	sig, err := io.ReadAll(block.ArmoredSignature.Body)
	if err != nil {
		return nil, Signer{}, &SignatureInvalidError{Reason: "reading signature", Err: err}
	}

	now := k.clock.Now()
	var valid openpgp.EntityList
	for _, entity := range k.entities {
		if meta, ok := k.declared(entity); ok && meta.validAt(now) {
			valid = append(valid, entity)
		}
	}

	signer, err := openpgp.CheckDetachedSignature(
		valid, bytes.NewReader(block.Bytes), bytes.NewReader(sig))
	if err == nil {
		info := k.signerInfo(signer)
		k.logger.Info("manifest signature verified",
			"signer", info.Name, "key", info.KeyID)
		return block.Plaintext, info, nil
	}
	if err == pgperrors.ErrUnknownIssuer {
		// The valid subset rejected the issuer. If the full bundle
		// knows the key, the window is the problem, not the key.
		for _, id := range issuerKeyIDs(sig) {
			for _, match := range k.entities.KeysById(id) {
				meta, ok := k.declared(match.Entity)
				if !ok {
					continue
				}
				return nil, Signer{}, &KeyExpiredError{
					Name:        meta.Name,
					Fingerprint: meta.Fingerprint,
					NotBefore:   meta.NotBefore,
					NotAfter:    meta.NotAfter,
					Now:         now,
				}
			}
		}
		return nil, Signer{}, &SignatureInvalidError{Reason: "signed by a key not in the trust bundle"}
	}
	return nil, Signer{}, &SignatureInvalidError{Reason: "signature check failed", Err: err}
}

// declared finds the bundle entry for an entity's primary key.
func (k *Keyring) declared(entity *openpgp.Entity) (bundleKey, bool) {
	fp := entityFingerprint(entity)
	for _, key := range k.bundle.Keys {
		if key.Fingerprint == fp {
			return key, true
		}
	}
	return bundleKey{}, false
}

func (k *Keyring) signerInfo(entity *openpgp.Entity) Signer {
	info := Signer{
		Fingerprint: entityFingerprint(entity),
		KeyID:       entity.PrimaryKey.KeyIdString(),
	}
	if meta, ok := k.declared(entity); ok {
		info.Name = meta.Name
	} else if identity := primaryIdentity(entity); identity != nil {
		info.Name = identity.Name
	}
	return info
}

// primaryIdentity returns the Identity marked as primary or the first
// identity if none are so marked, matching the unexported helper in
// golang.org/x/crypto/openpgp.
func primaryIdentity(e *openpgp.Entity) *openpgp.Identity {
	var firstIdentity *openpgp.Identity
	for _, ident := range e.Identities {
		if firstIdentity == nil {
			firstIdentity = ident
		}
		if ident.SelfSignature.IsPrimaryId != nil && *ident.SelfSignature.IsPrimaryId {
			return ident
		}
	}
	return firstIdentity
}

// issuerKeyIDs extracts the issuer key IDs from raw signature packets.
// Used only for diagnostics when verification already failed.
func issuerKeyIDs(sig []byte) []uint64 {
	var ids []uint64
	reader := packet.NewReader(bytes.NewReader(sig))
	for {
		p, err := reader.Next()
		if err != nil {
			return ids
		}
		switch s := p.(type) {
		case *packet.Signature:
			if s.IssuerKeyId != nil {
				ids = append(ids, *s.IssuerKeyId)
			}
		case *packet.SignatureV3:
			ids = append(ids, s.IssuerKeyId)
		}
	}
}
