// Copyright 2026 The Stagehand Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/stagehand-project/stagehand/lib/clock"
	"github.com/stagehand-project/stagehand/lib/version"
)

// maxSmallFetch bounds Fetch downloads. Pointer files and digest
// manifests are a few kilobytes.
const maxSmallFetch = 8 << 20

// Config configures a [Client].
type Config struct {
	// BaseURL is the autobuilds directory of the mirror, for example
	// "https://distfiles.gentoo.org/releases/amd64/autobuilds".
	// Required.
	BaseURL string

	// HTTPClient defaults to a client with no overall timeout; stage
	// tarball downloads legitimately run for minutes, so cancellation
	// comes from the request context instead.
	HTTPClient *http.Client

	// Clock stamps download durations in logs. Defaults to
	// [clock.Real].
	Clock clock.Clock

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Client fetches pointer files and release artifacts from one mirror.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// New builds a Client, applying defaults for unset fields.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("mirror: Config.BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("mirror: invalid base URL %q: %w", config.BaseURL, err)
	}
	c := &Client{
		baseURL:    config.BaseURL,
		httpClient: config.HTTPClient,
		clock:      config.Clock,
		logger:     config.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// ResolveLatest fetches and parses the channel's pointer file, for
// example channel "stage3-amd64-openrc" reads
// "latest-stage3-amd64-openrc.txt".
func (c *Client) ResolveLatest(ctx context.Context, channel string) (Release, error) {
	pointer := fmt.Sprintf("latest-%s.txt", channel)
	data, err := c.Fetch(ctx, pointer)
	if err != nil {
		return Release{}, err
	}
	release, err := parsePointer(data)
	if err != nil {
		return Release{}, fmt.Errorf("%w (from %s)", err, pointer)
	}
	c.logger.Info("resolved latest release",
		"channel", channel, "artifact", release.Name, "bytes", release.Size)
	return release, nil
}

// Fetch retrieves a small file, such as a pointer or digest manifest,
// entirely into memory.
func (c *Client) Fetch(ctx context.Context, relPath string) ([]byte, error) {
	resp, err := c.get(ctx, relPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSmallFetch))
	if err != nil {
		return nil, fmt.Errorf("mirror: reading %s: %w", relPath, err)
	}
	return data, nil
}

// Download streams an artifact to dest and returns its size. A
// non-empty dest file is taken as a finished earlier download and
// skipped; interrupted transfers leave no dest file because the bytes
// go through dest.part until the stream completes.
func (c *Client) Download(ctx context.Context, relPath, dest string) (int64, error) {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		c.logger.Info("artifact already downloaded, skipping",
			"file", dest, "bytes", info.Size())
		return info.Size(), nil
	}

	start := c.clock.Now()
	resp, err := c.get(ctx, relPath)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("mirror: creating %s: %w", part, err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("got %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("mirror: downloading %s: %w", relPath, err)
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("mirror: finishing %s: %w", dest, err)
	}
	c.logger.Info("artifact downloaded",
		"file", dest, "bytes", n,
		"seconds", c.clock.Now().Sub(start).Round(time.Millisecond).Seconds())
	return n, nil
}

func (c *Client) get(ctx context.Context, relPath string) (*http.Response, error) {
	u, err := url.JoinPath(c.baseURL, relPath)
	if err != nil {
		return nil, fmt.Errorf("mirror: joining URL for %s: %w", relPath, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("mirror: building request for %s: %w", relPath, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mirror: fetching %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("mirror: fetching %s: unexpected status %s", u, resp.Status)
	}
	return resp, nil
}
