// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ManifestNotFoundId Id = iota + 1
	ManifestInvalidId
	ConfigLoadFailedId
	VersionNotFoundId
	NoMatchingVersionId
	DependencyCycleId
	OnlineRequiredId
	IntegrityMismatchId
	LockfileOutOfDateId
	PatchConflictId
	ToolchainTooOldId
	FetchFailedId
	VendorBusyId
	PermissionDeniedId
	DiscoveryLockedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	manifestNotFoundIssue = &Issue{
		id: ManifestNotFoundId,
		mdMsg: `
# No board.toml found!

boardmod looks for a board.toml in the current directory and then in each parent.

## Things you can try:
- Run the command from inside your project
- Point at the project explicitly:
~~~
$ boardmod resolve -C /path/to/project
~~~

## Minimal board.toml:
~~~toml
[package]
version = "0.1.0"

[dependencies]
"github.com/acme/parts" = "^1.2"
~~~`,
	}

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# Invalid board.toml!

A manifest could not be parsed or failed validation. The error above names the file, the line and the field.

## Common causes:
- A dependency entry sets more than one of version, branch, rev and path
- An unknown field (the manifest is strict)
- A [patch] table outside the workspace root
- A workspace member glob that matches no directory`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The boardmod configuration file is not valid CUE or does not match the schema.

## Things you can try:
- Print the effective configuration:
~~~
$ boardmod config show
~~~

- Remove the file to fall back to the defaults
- Override single values with BOARDMOD_* environment variables`,
	}

	versionNotFoundIssue = &Issue{
		id: VersionNotFoundId,
		mdMsg: `
# Version not found!

The repository has no tag for the requested version.

## Things you can try:
- Check the tags published by the dependency
- Use a range such as "^1.2" instead of an exact version
- Pin a commit with { rev = "..." } if the release was never tagged`,
	}

	noMatchingVersionIssue = &Issue{
		id: NoMatchingVersionId,
		mdMsg: `
# No release matches the requirement!

None of the tagged releases satisfies the version range.

## Things you can try:
- Widen the range in board.toml
- Check whether the release you expect uses a different major version`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected!

Packages depend on each other in a loop. The error above lists the cycle in import order.

## Things you can try:
- Move the shared parts into a package that both sides depend on
- Turn one of the edges into an [assets] entry if it needs no resolution`,
	}

	onlineRequiredIssue = &Issue{
		id: OnlineRequiredId,
		mdMsg: `
# An online resolve is required!

A branch or rev dependency has never been pinned, and the network is disabled.

## Things you can try:
- Resolve once with the network enabled to record the commit in board.sum:
~~~
$ boardmod resolve
~~~`,
	}

	integrityMismatchIssue = &Issue{
		id: IntegrityMismatchId,
		mdMsg: `
# Checksum mismatch!

The downloaded content does not match the hash recorded in board.sum.
Either the upstream tag was moved or the cached copy was modified.

## Things you can try:
- Inspect the upstream repository before trusting the new content
- If the change is expected, delete the line from board.sum and resolve again`,
	}

	lockfileOutOfDateIssue = &Issue{
		id: LockfileOutOfDateId,
		mdMsg: `
# board.sum is out of date!

Locked mode only verifies board.sum, and a resolved module has no entry.

## Things you can try:
- Run a normal resolve and commit the updated board.sum:
~~~
$ boardmod resolve
~~~`,
	}

	patchConflictIssue = &Issue{
		id: PatchConflictId,
		mdMsg: `
# Conflicting patches!

Two [patch] entries in the workspace root claim the same module.

## Things you can try:
- Keep a single patch per module path
- Give version-pinned patches distinct "path@version" keys`,
	}

	toolchainTooOldIssue = &Issue{
		id: ToolchainTooOldId,
		mdMsg: `
# Toolchain too old!

A package requires a newer toolchain than the one running.

## Things you can try:
- Update boardmod
- Depend on an older release of the package`,
	}

	fetchFailedIssue = &Issue{
		id: FetchFailedId,
		mdMsg: `
# Fetch failed!

A repository could not be cloned or fetched after several attempts.

## Things you can try:
- Check your network connection and git credentials
- Use the cache only:
~~~
$ boardmod resolve --offline
~~~

- Point BOARDMOD_PROXY at a module proxy`,
	}

	vendorBusyIssue = &Issue{
		id: VendorBusyId,
		mdMsg: `
# Vendor directory is busy!

Another boardmod process holds the vendor lock.

## Things you can try:
- Wait for the other process to finish
- Remove vendor/.lock if no other process is running`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

You don't have permission to perform this operation.

## Common causes:
- The cache directory belongs to another user
- The project directory is read-only

## Things you can try:
- Check file/directory permissions
- Move the cache with BOARDMOD_CACHE`,
	}

	discoveryLockedIssue = &Issue{
		id: DiscoveryLockedId,
		mdMsg: `
# Discovery cannot run in locked mode!

Auto-discovery adds missing dependencies to board.toml files, and locked
mode forbids changing any manifest. board.sum itself is not the problem.

## Things you can try:
- Run discovery without locked mode, then commit the updated manifests:
~~~
$ BOARDMOD_LOCKED=false boardmod discover
~~~

- Remove ` + "`locked: true`" + ` from the configuration file
- Declare the dependency in board.toml by hand`,
	}

	issues = map[Id]*Issue{
		manifestNotFoundIssue.Id():  manifestNotFoundIssue,
		manifestInvalidIssue.Id():   manifestInvalidIssue,
		configLoadFailedIssue.Id():  configLoadFailedIssue,
		versionNotFoundIssue.Id():   versionNotFoundIssue,
		noMatchingVersionIssue.Id(): noMatchingVersionIssue,
		dependencyCycleIssue.Id():   dependencyCycleIssue,
		onlineRequiredIssue.Id():    onlineRequiredIssue,
		integrityMismatchIssue.Id(): integrityMismatchIssue,
		lockfileOutOfDateIssue.Id(): lockfileOutOfDateIssue,
		patchConflictIssue.Id():     patchConflictIssue,
		toolchainTooOldIssue.Id():   toolchainTooOldIssue,
		fetchFailedIssue.Id():       fetchFailedIssue,
		vendorBusyIssue.Id():        vendorBusyIssue,
		permissionDeniedIssue.Id():  permissionDeniedIssue,
		discoveryLockedIssue.Id():   discoveryLockedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
