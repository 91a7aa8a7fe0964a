// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"bufio"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Release identifies one published release artifact, resolved from a
// channel pointer file.
type Release struct {
	// Path is the artifact location relative to the mirror base,
	// for example "20260801T164822Z/stage3-amd64-20260801T164822Z.tar.xz".
	Path string

	// Name is the artifact base name.
	Name string

	// Size is the advertised byte size, or 0 when the pointer does
	// not carry one.
	Size int64
}

// DigestsPath returns the mirror path of the release's clearsigned
// digest manifest, published next to the artifact.
func (r Release) DigestsPath() string { return r.Path + ".DIGESTS.asc" }

// ContentsPath returns the mirror path of the release's file listing.
func (r Release) ContentsPath() string { return r.Path + ".CONTENTS.gz" }

// parsePointer extracts the release from a pointer file. The format is
// loose: comment lines start with '#', newer mirrors wrap the payload
// in a PGP clearsign envelope, and the payload itself is whitespace
// separated "path [size]" lines. Exactly one payload line may name an
// artifact; zero or several is an error, so a mangled pointer cannot
// select a garbage path.
func parsePointer(data []byte) (Release, error) {
	var found *Release
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "-----"):
			continue
		case strings.HasPrefix(line, "Hash:"):
			continue
		case strings.HasPrefix(line, "Version:"):
			continue
		}
		fields := strings.Fields(line)
		rel := fields[0]
		if !strings.Contains(rel, "/") || !strings.Contains(rel, ".tar") {
			// Armor payload lines (base64, checksums) fall through
			// to here once the envelope headers are skipped.
			continue
		}
		if found != nil {
			return Release{}, fmt.Errorf("mirror: pointer file names more than one release artifact")
		}
		release := Release{Path: rel, Name: path.Base(rel)}
		if len(fields) > 1 {
			if size, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				release.Size = size
			}
		}
		found = &release
	}
	if err := scanner.Err(); err != nil {
		return Release{}, fmt.Errorf("mirror: reading pointer: %w", err)
	}
	if found == nil {
		return Release{}, fmt.Errorf("mirror: pointer file names no release artifact")
	}
	return *found, nil
}
