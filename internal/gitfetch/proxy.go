// SPDX-License-Identifier: MPL-2.0

package gitfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/invowk/boardmod/pkg/canonical"
)

// errProxyMiss marks a version the proxy does not serve.
var errProxyMiss = errors.New("not served by proxy")

// Proxy serves package trees from a read-only HTTP proxy and falls back to
// git for anything the proxy does not have. Version listing and ref
// resolution always go to git.
//
// Protocol: GET {base}/{module-path}/@v/{version}.tar returns the canonical
// archive of the package. 404 and 410 mean "not here"; any other failure is
// retried, then also falls back to git.
type Proxy struct {
	*Fetcher
	base   string
	client *http.Client
}

// NewProxy fronts f with the proxy at base.
func NewProxy(base string, f *Fetcher) *Proxy {
	return &Proxy{
		Fetcher: f,
		base:    strings.TrimRight(base, "/"),
		client:  cleanhttp.DefaultPooledClient(),
	}
}

// Fetch materializes modulePath at version into dst, from the proxy when it
// has it.
func (p *Proxy) Fetch(ctx context.Context, modulePath, version, dst string) error {
	if err := p.download(ctx, modulePath, version, dst); err != nil {
		if !errors.Is(err, errProxyMiss) {
			p.logger.Warn("proxy fetch failed, falling back to git", "module", modulePath, "version", version, "err", err)
		}
		if err := clearDir(dst); err != nil {
			return err
		}
		return p.Fetcher.Fetch(ctx, modulePath, version, dst)
	}
	p.logger.Debug("fetched from proxy", "module", modulePath, "version", version)
	return nil
}

// FetchAsset is Fetch for assets.
func (p *Proxy) FetchAsset(ctx context.Context, modulePath, ref, dst string) error {
	if err := p.download(ctx, modulePath, ref, dst); err != nil {
		if !errors.Is(err, errProxyMiss) {
			p.logger.Warn("proxy fetch failed, falling back to git", "module", modulePath, "ref", ref, "err", err)
		}
		if err := clearDir(dst); err != nil {
			return err
		}
		return p.Fetcher.FetchAsset(ctx, modulePath, ref, dst)
	}
	return nil
}

func (p *Proxy) download(ctx context.Context, modulePath, version, dst string) error {
	target := p.base + "/" + modulePath + "/@v/" + url.PathEscape(version) + ".tar"
	return retry(ctx, p.retry, p.logger, "proxy "+modulePath, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return permanent(err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return permanent(errProxyMiss)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("proxy returned %s", resp.Status)
		case resp.StatusCode != http.StatusOK:
			return permanent(fmt.Errorf("proxy returned %s", resp.Status))
		}

		if err := clearDir(dst); err != nil {
			return permanent(err)
		}
		if err := canonical.Unpack(resp.Body, dst); err != nil {
			if errors.Is(err, canonical.ErrUnsafeEntry) {
				return permanent(err)
			}
			return err
		}
		return nil
	})
}

// clearDir empties dir, creating it when absent.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
