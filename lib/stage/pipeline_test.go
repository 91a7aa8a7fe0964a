// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/clearsign"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/stagehand-project/stagehand/lib/clock"
	"github.com/stagehand-project/stagehand/lib/digest"
	"github.com/stagehand-project/stagehand/lib/keyring"
	"github.com/stagehand-project/stagehand/lib/mirror"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

const releaseStamp = "20260801T164822Z"

var artifactName = "stage3-amd64-" + releaseStamp + ".tar.xz"

// buildStageArtifact produces a minimal but valid stage tarball,
// xz-compressed the way mirrors publish them.
func buildStageArtifact(t *testing.T) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	write := func(hdr tar.Header, body string) {
		hdr.ModTime = testMtime
		hdr.Size = int64(len(body))
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatal(err)
		}
		if body != "" {
			if _, err := tw.Write([]byte(body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	write(tar.Header{Typeflag: tar.TypeDir, Name: "./etc/", Mode: 0o755}, "")
	write(tar.Header{Typeflag: tar.TypeReg, Name: "./etc/gentoo-release", Mode: 0o644},
		"Gentoo Base System release 2.17\n")
	write(tar.Header{Typeflag: tar.TypeReg, Name: "./etc/profile", Mode: 0o644},
		"export PS1='(chroot) '\n")
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xw.Write(tarBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return xzBuf.Bytes()
}

func manifestFor(artifact []byte) string {
	sum := sha512.Sum512(artifact)
	return fmt.Sprintf("# SHA512 HASH\n%s  %s\n", hex.EncodeToString(sum[:]), artifactName)
}

func newSigningEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity(
		"Stagehand Test Releng", "", "releng@stagehand.invalid",
		&packet.Config{RSABits: 1024})
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	return entity
}

func clearsignManifest(t *testing.T, entity *openpgp.Entity, manifest string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := clearsign.Encode(&buf, entity.PrivateKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(manifest)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// writeBundleFile builds a one-key trust bundle through the public
// bundle format.
func writeBundleFile(t *testing.T, entity *openpgp.Entity, notBefore, notAfter time.Time) string {
	t.Helper()
	var pub bytes.Buffer
	aw, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.Serialize(aw); err != nil {
		t.Fatal(err)
	}
	if err := aw.Close(); err != nil {
		t.Fatal(err)
	}
	doc := fmt.Sprintf(
		`{"refresh_url":"","keys":[{"name":"Test Release Key","fingerprint":%q,"not_before":%q,"not_after":%q,"armored_key":%s}]}`,
		fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint[:]),
		notBefore.Format(time.RFC3339), notAfter.Format(time.RFC3339),
		strconv.Quote(pub.String()))
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// testHarness wires a fake mirror, a trust bundle, and a pipeline.
type testHarness struct {
	t        *testing.T
	srv      *httptest.Server
	requests atomic.Int32
	keyring  *keyring.Keyring
	workDir  string
	tree     string
}

func newHarness(t *testing.T, artifact, signedManifest []byte, notBefore, notAfter time.Time, entity *openpgp.Entity) *testHarness {
	t.Helper()
	h := &testHarness{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("/latest-stage3-amd64-openrc.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "# Latest as of Sat, 01 Aug 2026 16:48:22 +0000\n%s/%s %d\n",
			releaseStamp, artifactName, len(artifact))
	})
	mux.HandleFunc("/"+releaseStamp+"/"+artifactName, func(w http.ResponseWriter, r *http.Request) {
		w.Write(artifact)
	})
	mux.HandleFunc("/"+releaseStamp+"/"+artifactName+".DIGESTS.asc", func(w http.ResponseWriter, r *http.Request) {
		w.Write(signedManifest)
	})
	mux.HandleFunc("/"+releaseStamp+"/"+artifactName+".CONTENTS.gz", func(w http.ResponseWriter, r *http.Request) {
		gz := gzip.NewWriter(w)
		fmt.Fprintln(gz, "dir ./etc")
		fmt.Fprintln(gz, "obj ./etc/gentoo-release")
		gz.Close()
	})
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(h.srv.Close)

	k, err := keyring.New(keyring.Config{
		BundlePath: writeBundleFile(t, entity, notBefore, notAfter),
		Clock:      clock.Fake(testNow),
	})
	if err != nil {
		t.Fatalf("keyring.New: %v", err)
	}
	h.keyring = k
	base := t.TempDir()
	h.workDir = filepath.Join(base, "staging")
	h.tree = filepath.Join(base, "tree")
	return h
}

func (h *testHarness) pipeline(force bool, channel, release string) *Pipeline {
	h.t.Helper()
	client, err := mirror.New(mirror.Config{
		BaseURL:    h.srv.URL,
		HTTPClient: h.srv.Client(),
		Clock:      clock.Fake(testNow),
	})
	if err != nil {
		h.t.Fatalf("mirror.New: %v", err)
	}
	p, err := NewPipeline(Config{
		Mirror:  client,
		Keyring: h.keyring,
		WorkDir: h.workDir,
		Tree:    h.tree,
		Channel: channel,
		Release: release,
		Force:   force,
		Clock:   clock.Fake(testNow),
	})
	if err != nil {
		h.t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestBootstrap(t *testing.T) {
	artifact := buildStageArtifact(t)
	entity := newSigningEntity(t)
	signed := clearsignManifest(t, entity, manifestFor(artifact))
	h := newHarness(t, artifact, signed, testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour), entity)

	marker, performed, err := h.pipeline(false, "stage3-amd64-openrc", "").Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !performed {
		t.Error("first bootstrap reported no extraction")
	}
	if marker.Artifact != artifactName {
		t.Errorf("marker artifact = %q, want %q", marker.Artifact, artifactName)
	}
	if marker.Algorithm != "SHA512" {
		t.Errorf("marker algorithm = %q, want SHA512", marker.Algorithm)
	}
	hasher := blake3.New()
	hasher.Write(artifact)
	if want := hex.EncodeToString(hasher.Sum(nil)); marker.ContentHash != want {
		t.Errorf("marker content hash = %q, want %q", marker.ContentHash, want)
	}

	content, err := os.ReadFile(filepath.Join(h.tree, "etc/gentoo-release"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if !strings.Contains(string(content), "Gentoo Base System") {
		t.Errorf("extracted content = %q", content)
	}
	if _, err := os.Stat(filepath.Join(h.workDir, artifactName+".CONTENTS.gz")); err != nil {
		t.Error("contents listing was not staged")
	}
	if h.requests.Load() != 4 {
		t.Errorf("mirror saw %d requests, want 4 (pointer, manifest, artifact, contents)", h.requests.Load())
	}

	// A marked tree short-circuits without touching the network.
	again, performed, err := h.pipeline(false, "stage3-amd64-openrc", "").Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if performed {
		t.Error("idempotent re-run reported an extraction")
	}
	if again.Artifact != artifactName {
		t.Errorf("second marker artifact = %q", again.Artifact)
	}
	if h.requests.Load() != 4 {
		t.Errorf("idempotent re-run hit the mirror: %d requests", h.requests.Load())
	}
}

func TestBootstrapPinnedRelease(t *testing.T) {
	artifact := buildStageArtifact(t)
	entity := newSigningEntity(t)
	signed := clearsignManifest(t, entity, manifestFor(artifact))
	h := newHarness(t, artifact, signed, testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour), entity)

	p := h.pipeline(false, "", releaseStamp+"/"+artifactName)
	if _, _, err := p.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if h.requests.Load() != 3 {
		t.Errorf("pinned release made %d requests, want 3 (no pointer fetch)", h.requests.Load())
	}
}

func TestBootstrapDigestMismatch(t *testing.T) {
	artifact := buildStageArtifact(t)
	entity := newSigningEntity(t)
	wrong := fmt.Sprintf("# SHA512 HASH\n%s  %s\n", strings.Repeat("0", 128), artifactName)
	signed := clearsignManifest(t, entity, wrong)
	h := newHarness(t, artifact, signed, testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour), entity)

	_, _, err := h.pipeline(false, "stage3-amd64-openrc", "").Bootstrap(context.Background())
	var mismatch *digest.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Bootstrap error = %v, want digest.MismatchError", err)
	}

	// The corrupt artifact is deleted; the manifest stays for audit.
	if _, err := os.Stat(filepath.Join(h.workDir, artifactName)); !os.IsNotExist(err) {
		t.Error("corrupt artifact was not deleted")
	}
	if _, err := os.Stat(filepath.Join(h.workDir, artifactName+".DIGESTS.asc")); err != nil {
		t.Error("manifest should survive a digest mismatch")
	}
	if _, err := os.Stat(h.tree); !os.IsNotExist(err) {
		t.Error("tree was created despite failed verification")
	}
}

func TestBootstrapKeyExpired(t *testing.T) {
	artifact := buildStageArtifact(t)
	entity := newSigningEntity(t)
	signed := clearsignManifest(t, entity, manifestFor(artifact))
	h := newHarness(t, artifact, signed, testNow.Add(-48*time.Hour), testNow.Add(-24*time.Hour), entity)

	_, _, err := h.pipeline(false, "stage3-amd64-openrc", "").Bootstrap(context.Background())
	var expired *keyring.KeyExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("Bootstrap error = %v, want keyring.KeyExpiredError", err)
	}
	if _, err := os.Stat(h.tree); !os.IsNotExist(err) {
		t.Error("tree was created despite expired signing key")
	}
}

func TestBootstrapUnsignedManifest(t *testing.T) {
	artifact := buildStageArtifact(t)
	entity := newSigningEntity(t)
	h := newHarness(t, artifact, []byte(manifestFor(artifact)),
		testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour), entity)

	_, _, err := h.pipeline(false, "stage3-amd64-openrc", "").Bootstrap(context.Background())
	var invalid *keyring.SignatureInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("Bootstrap error = %v, want keyring.SignatureInvalidError", err)
	}
}

func TestBootstrapRefusesUnmarkedTree(t *testing.T) {
	artifact := buildStageArtifact(t)
	entity := newSigningEntity(t)
	signed := clearsignManifest(t, entity, manifestFor(artifact))
	h := newHarness(t, artifact, signed, testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour), entity)

	if err := os.MkdirAll(h.tree, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.tree, "precious.txt"), []byte("mine\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := h.pipeline(false, "stage3-amd64-openrc", "").Bootstrap(context.Background())
	var notEmpty *TreeNotEmptyError
	if !errors.As(err, &notEmpty) {
		t.Fatalf("Bootstrap error = %v, want TreeNotEmptyError", err)
	}
	if _, err := os.Stat(filepath.Join(h.tree, "precious.txt")); err != nil {
		t.Error("refusal still removed existing content")
	}
}

func TestBootstrapForceWipes(t *testing.T) {
	artifact := buildStageArtifact(t)
	entity := newSigningEntity(t)
	signed := clearsignManifest(t, entity, manifestFor(artifact))
	h := newHarness(t, artifact, signed, testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour), entity)

	if err := os.MkdirAll(h.tree, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.tree, "stale.txt"), []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, performed, err := h.pipeline(true, "stage3-amd64-openrc", "").Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap with force: %v", err)
	}
	if !performed {
		t.Error("force bootstrap reported no extraction")
	}
	if _, err := os.Stat(filepath.Join(h.tree, "stale.txt")); !os.IsNotExist(err) {
		t.Error("force did not wipe stale content")
	}
	if _, _, err := ReadMarker(h.tree); err != nil {
		t.Errorf("marker after force bootstrap: %v", err)
	}
}

func TestStatusAndClean(t *testing.T) {
	artifact := buildStageArtifact(t)
	entity := newSigningEntity(t)
	signed := clearsignManifest(t, entity, manifestFor(artifact))
	h := newHarness(t, artifact, signed, testNow.Add(-24*time.Hour), testNow.Add(24*time.Hour), entity)

	p := h.pipeline(false, "stage3-amd64-openrc", "")
	status, err := p.Status()
	if err != nil {
		t.Fatalf("Status before bootstrap: %v", err)
	}
	if status.Exists || status.Marker != nil {
		t.Errorf("pre-bootstrap status = %+v", status)
	}

	if _, _, err := p.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	status, err = p.Status()
	if err != nil {
		t.Fatalf("Status after bootstrap: %v", err)
	}
	if !status.Exists || status.Marker == nil || status.Marker.Artifact != artifactName {
		t.Errorf("post-bootstrap status = %+v", status)
	}
	if status.Artifact == "" {
		t.Error("status did not find the staged artifact")
	}

	removed, err := p.CleanWorkDir()
	if err != nil {
		t.Fatalf("CleanWorkDir: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("CleanWorkDir removed %v, want artifact, manifest, and contents", removed)
	}
	status, err = p.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status.Artifact != "" {
		t.Error("staged artifact still reported after clean")
	}
}
