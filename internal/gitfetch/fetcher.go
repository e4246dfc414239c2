// SPDX-License-Identifier: MPL-2.0

package gitfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/sync/singleflight"

	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/modver"
)

type (
	// Options configures a Fetcher. The zero value is usable.
	Options struct {
		Logger *log.Logger
		Retry  RetryPolicy
		// MirrorDir keeps blobless clones used to derive pseudo-versions.
		// Empty means a temporary clone per derivation.
		MirrorDir string
		// URLs maps a repository root to the remote URLs tried in order.
		// Defaults to DefaultURLs.
		URLs func(repoRoot string) []string
		// Getenv looks up credentials; defaults to os.Getenv.
		Getenv func(string) string
	}

	// Fetcher talks to git remotes. Tag listings are memoized per repository
	// root for the Fetcher's lifetime, which is one resolution run.
	Fetcher struct {
		logger    *log.Logger
		retry     RetryPolicy
		mirrorDir string
		urls      func(string) []string
		creds     credentials

		group    singleflight.Group
		mu       sync.Mutex
		refCache map[string][]*plumbing.Reference
	}
)

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.URLs == nil {
		opts.URLs = DefaultURLs
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	return &Fetcher{
		logger:    opts.Logger,
		retry:     opts.Retry.withDefaults(),
		mirrorDir: opts.MirrorDir,
		urls:      opts.URLs,
		creds:     loadCredentials(opts.Getenv),
		refCache:  map[string][]*plumbing.Reference{},
	}
}

// Versions lists the released versions of a module, ascending.
func (f *Fetcher) Versions(ctx context.Context, modulePath string) ([]string, error) {
	tags, err := f.tags(ctx, modulePath)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tags))
	for v := range tags {
		out = append(out, v)
	}
	modver.Sort(out)
	return out, nil
}

// Fetch materializes modulePath at version into dst, which must be empty or
// absent. Pseudo-versions are fetched by their embedded commit.
func (f *Fetcher) Fetch(ctx context.Context, modulePath, version, dst string) error {
	repoRoot, subpath := RepoRoot(modulePath)

	var ref string
	if modver.IsPseudo(version) {
		rev, err := modver.PseudoRev(version)
		if err != nil {
			return err
		}
		ref = rev
	} else {
		tags, err := f.tags(ctx, modulePath)
		if err != nil {
			return err
		}
		tag, ok := tags[version]
		if !ok {
			return &VersionNotFoundError{Path: modulePath, Version: version, Tag: TagPrefix(subpath) + version}
		}
		ref = "refs/tags/" + tag
	}

	f.logger.Debug("fetching", "module", modulePath, "version", version, "ref", ref)
	return f.checkout(ctx, modulePath, f.urls(repoRoot), subpath, ref, dst)
}

// FetchAsset materializes an asset at ref into dst. ref may be a tag, either
// verbatim or under the module's tag prefix, a branch or a full commit hash.
func (f *Fetcher) FetchAsset(ctx context.Context, modulePath, ref, dst string) error {
	repoRoot, subpath := RepoRoot(modulePath)
	refs, err := f.refs(ctx, repoRoot)
	if err != nil {
		return err
	}

	target := ""
	for _, candidate := range []plumbing.ReferenceName{
		plumbing.NewTagReferenceName(TagPrefix(subpath) + ref),
		plumbing.NewTagReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
	} {
		if findRef(refs, candidate) != nil {
			target = candidate.String()
			break
		}
	}
	if target == "" {
		if !plumbing.IsHash(ref) {
			return &RefError{Path: modulePath, Ref: ref, Err: ErrRefNotFound}
		}
		target = ref
	}

	f.logger.Debug("fetching asset", "module", modulePath, "ref", target)
	return f.checkout(ctx, modulePath, f.urls(repoRoot), subpath, target, dst)
}

// FetchFrom materializes modulePath at commit rev from an alternate remote,
// such as a fork named by a git patch. The module keeps its subpath inside
// the alternate repository.
func (f *Fetcher) FetchFrom(ctx context.Context, modulePath, url, rev, dst string) error {
	_, subpath := RepoRoot(modulePath)
	f.logger.Debug("fetching from alternate remote", "module", modulePath, "url", url, "rev", rev)
	return f.checkout(ctx, modulePath, []string{url}, subpath, rev, dst)
}

// ResolveBranch returns the pseudo-version of the branch's current head.
func (f *Fetcher) ResolveBranch(ctx context.Context, modulePath, branch string) (string, error) {
	repoRoot, _ := RepoRoot(modulePath)
	refs, err := f.refs(ctx, repoRoot)
	if err != nil {
		return "", err
	}
	head := findRef(refs, plumbing.NewBranchReferenceName(branch))
	if head == nil {
		return "", &RefError{Path: modulePath, Ref: branch, Err: ErrRefNotFound}
	}
	return f.ResolveRev(ctx, modulePath, head.Hash().String())
}

// ResolveDefaultBranch returns the name of the remote's default branch and
// the pseudo-version of its head. It serves repositories without release tags.
func (f *Fetcher) ResolveDefaultBranch(ctx context.Context, modulePath string) (branch, version string, err error) {
	repoRoot, _ := RepoRoot(modulePath)
	refs, err := f.refs(ctx, repoRoot)
	if err != nil {
		return "", "", err
	}
	head := defaultBranch(refs)
	if head == nil {
		return "", "", &RefError{Path: modulePath, Ref: "HEAD", Err: ErrRefNotFound}
	}
	version, err = f.ResolveRev(ctx, modulePath, head.Hash().String())
	if err != nil {
		return "", "", err
	}
	return head.Name().Short(), version, nil
}

// defaultBranch follows the advertised HEAD symref. Remotes that do not
// advertise it get the branch whose head matches HEAD, preferring main and
// then master.
func defaultBranch(refs []*plumbing.Reference) *plumbing.Reference {
	head := findRef(refs, plumbing.HEAD)
	if head == nil {
		return nil
	}
	if head.Type() == plumbing.SymbolicReference {
		return findRef(refs, head.Target())
	}
	var match *plumbing.Reference
	for _, r := range refs {
		if !r.Name().IsBranch() || r.Hash() != head.Hash() {
			continue
		}
		switch r.Name().Short() {
		case "main":
			return r
		case "master":
			match = r
		default:
			if match == nil {
				match = r
			}
		}
	}
	return match
}

// tags maps each released version of modulePath to its tag name. When both
// "v1.2.3" and "1.2.3" exist the prefixed form wins.
func (f *Fetcher) tags(ctx context.Context, modulePath string) (map[string]string, error) {
	repoRoot, subpath := RepoRoot(modulePath)
	refs, err := f.refs(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, ref := range refs {
		if !ref.Name().IsTag() {
			continue
		}
		name := ref.Name().Short()
		v, ok := TagVersion(subpath, name)
		if !ok {
			continue
		}
		if prev, seen := out[v]; seen && strings.HasPrefix(strings.TrimPrefix(prev, TagPrefix(subpath)), "v") {
			continue
		}
		out[v] = name
	}
	return out, nil
}

func (f *Fetcher) refs(ctx context.Context, repoRoot string) ([]*plumbing.Reference, error) {
	f.mu.Lock()
	cached, ok := f.refCache[repoRoot]
	f.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := f.group.Do(repoRoot, func() (any, error) {
		refs, err := f.listRefs(ctx, repoRoot)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.refCache[repoRoot] = refs
		f.mu.Unlock()
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*plumbing.Reference), nil
}

// listRefs lists the remote's refs, trying each transport in order.
func (f *Fetcher) listRefs(ctx context.Context, repoRoot string) ([]*plumbing.Reference, error) {
	var refs []*plumbing.Reference
	err := retry(ctx, f.retry, f.logger, "list "+repoRoot, func() error {
		var errs []error
		allPermanent := true
		for _, url := range f.urls(repoRoot) {
			remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
				Name: "origin",
				URLs: []string{url},
			})
			r, err := remote.ListContext(ctx, &git.ListOptions{Auth: f.creds.forURL(url)})
			if err == nil {
				refs = r
				return nil
			}
			if errors.Is(err, transport.ErrEmptyRemoteRepository) {
				refs = nil
				return nil
			}
			f.logger.Debug("listing refs failed", "url", url, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			allPermanent = allPermanent && isPermanentTransportError(err)
		}
		err := errors.Join(errs...)
		if allPermanent {
			return permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, &FetchError{Path: repoRoot, Ref: "refs", Err: err}
	}
	return refs, nil
}

func isPermanentTransportError(err error) bool {
	return errors.Is(err, transport.ErrRepositoryNotFound) ||
		errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, transport.ErrInvalidAuthMethod)
}

// checkout fetches ref into dst, falling back across transports and
// retrying transient failures.
func (f *Fetcher) checkout(ctx context.Context, modulePath string, urls []string, subpath, ref, dst string) error {
	err := retry(ctx, f.retry, f.logger, "fetch "+modulePath, func() error {
		var errs []error
		for _, url := range urls {
			err := f.sparseCheckout(ctx, url, subpath, ref, dst)
			if err == nil {
				return nil
			}
			var perm *permanentError
			if errors.As(err, &perm) {
				return permanent(perm.err)
			}
			f.logger.Debug("fetch attempt failed", "module", modulePath, "url", url, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
		}
		return errors.Join(errs...)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRefNotFound) || errors.Is(err, ErrSubpathNotFound) {
		return &RefError{Path: modulePath, Ref: ref, Err: err}
	}
	return &FetchError{Path: modulePath, Ref: ref, Err: err}
}

// permanentError marks a sparse checkout failure that no other transport
// or retry can fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// sparseCheckout materializes only subpath of ref into dst: a depth-1,
// blobless fetch into a scratch repository next to dst, a sparse checkout,
// then the subtree is moved into dst.
func (f *Fetcher) sparseCheckout(ctx context.Context, url, subpath, ref, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return &permanentError{err}
	}
	work, err := os.MkdirTemp(filepath.Dir(dst), ".checkout-*")
	if err != nil {
		return &permanentError{err}
	}
	defer func() { _ = os.RemoveAll(work) }()

	auth := f.creds.gitConfigArgs(url)
	if err := run(ctx, work, "init", "-q"); err != nil {
		return err
	}
	if err := run(ctx, work, "remote", "add", "origin", url); err != nil {
		return err
	}
	if subpath != "" {
		if err := run(ctx, work, "config", "core.sparseCheckout", "true"); err != nil {
			return err
		}
		info := filepath.Join(work, ".git", "info")
		if err := os.MkdirAll(info, 0o755); err != nil {
			return &permanentError{err}
		}
		if err := os.WriteFile(filepath.Join(info, "sparse-checkout"), []byte("/"+subpath+"/\n"), 0o644); err != nil {
			return &permanentError{err}
		}
	}

	fetchArgs := append(append([]string{}, auth...), "fetch", "-q", "--depth=1", "--filter=blob:none", "origin", ref)
	if err := run(ctx, work, fetchArgs...); err != nil {
		return classify(err)
	}
	checkoutArgs := append(append([]string{}, auth...), "checkout", "-q", "FETCH_HEAD")
	if err := run(ctx, work, checkoutArgs...); err != nil {
		return classify(err)
	}

	src := filepath.Join(work, filepath.FromSlash(subpath))
	if !fspath.IsDir(src) {
		return &permanentError{fmt.Errorf("%w: %s", ErrSubpathNotFound, subpath)}
	}
	return moveContents(src, dst)
}

func classify(err error) error {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.missingObject() {
		return &permanentError{fmt.Errorf("%w: %w", ErrRefNotFound, err)}
	}
	return err
}

// moveContents moves every entry of src except .git into dst.
func moveContents(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return &permanentError{err}
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.Rename(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return &permanentError{fmt.Errorf("failed to move fetched tree: %w", err)}
		}
	}
	return nil
}

func findRef(refs []*plumbing.Reference, name plumbing.ReferenceName) *plumbing.Reference {
	for _, r := range refs {
		if r.Name() == name {
			return r
		}
	}
	return nil
}
