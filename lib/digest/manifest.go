// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Manifest holds the digests published for a set of release files,
// keyed by algorithm name and file base name. Manifests are usually
// the plaintext of a clearsigned .DIGESTS file, but the parser also
// tolerates the raw clearsigned form by skipping armor lines.
type Manifest struct {
	// digests maps ALGORITHM -> file base name -> lower-case hex.
	digests map[string]map[string]string
}

var (
	sectionHeader = regexp.MustCompile(`^\s*#+\s*(\S+)\s+HASH\s*$`)
	digestEntry   = regexp.MustCompile(`^([a-fA-F0-9]+)\s+(\S+)$`)
)

// ParseManifest reads the "# <ALGO> HASH" / "<hex>  <file>" format. A
// section ends at the first line that is neither a digest entry nor a
// new header, so PGP armor and blank separators are skipped without
// special handling. An input with no recognizable sections is an
// error; duplicate entries keep the last value seen.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{digests: make(map[string]map[string]string)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	current := ""
	for scanner.Scan() {
		line := scanner.Text()
		if header := sectionHeader.FindStringSubmatch(line); header != nil {
			current = strings.ToUpper(header[1])
			continue
		}
		if current == "" {
			continue
		}
		entry := digestEntry.FindStringSubmatch(strings.TrimSpace(line))
		if entry == nil {
			current = ""
			continue
		}
		name := path.Base(strings.TrimPrefix(entry[2], "./"))
		perFile, ok := m.digests[current]
		if !ok {
			perFile = make(map[string]string)
			m.digests[current] = perFile
		}
		perFile[name] = strings.ToLower(entry[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("digest: reading manifest: %w", err)
	}
	if len(m.digests) == 0 {
		return nil, fmt.Errorf("digest: no digest sections found in manifest")
	}
	return m, nil
}

// DigestsFor returns the published digests for a file, keyed by
// algorithm name. The file is matched by base name, the way manifests
// reference siblings in the same directory. The result is nil when the
// manifest does not mention the file.
func (m *Manifest) DigestsFor(filename string) map[string]string {
	name := path.Base(filename)
	var out map[string]string
	for algo, perFile := range m.digests {
		hex, ok := perFile[name]
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[algo] = hex
	}
	return out
}

// Files returns every file name the manifest publishes digests for,
// sorted and deduplicated.
func (m *Manifest) Files() []string {
	seen := make(map[string]struct{})
	for _, perFile := range m.digests {
		for name := range perFile {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Algorithms returns the algorithm names present in the manifest,
// sorted for stable output.
func (m *Manifest) Algorithms() []string {
	names := make([]string, 0, len(m.digests))
	for name := range m.digests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
