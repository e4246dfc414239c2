// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// GitRepo is a throwaway git repository used as a fetch remote in tests.
type GitRepo struct {
	t   testing.TB
	Dir string
}

// SkipWithoutGit skips the test when the git binary is not on PATH.
func SkipWithoutGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// NewGitRepo initializes an empty repository on branch main in a temp dir.
func NewGitRepo(t testing.TB) *GitRepo {
	t.Helper()
	SkipWithoutGit(t)

	r := &GitRepo{t: t, Dir: filepath.Join(t.TempDir(), "remote")}
	r.Git("init", "-q", "-b", "main", r.Dir)
	r.Git("config", "user.email", "test@example.com")
	r.Git("config", "user.name", "Test")
	r.Git("config", "commit.gpgsign", "false")
	r.Git("config", "tag.gpgsign", "false")
	return r
}

// Write creates or replaces files, keyed by slash-separated relative path.
func (r *GitRepo) Write(files map[string]string) {
	r.t.Helper()
	for name, content := range files {
		MustWriteFile(r.t, filepath.Join(r.Dir, filepath.FromSlash(name)), []byte(content))
	}
}

// Commit stages everything and commits with a fixed date, returning the
// full commit hash.
func (r *GitRepo) Commit(msg string) string {
	r.t.Helper()
	r.Git("add", "-A")
	r.gitEnv([]string{
		"GIT_AUTHOR_DATE=2024-05-01T10:00:00Z",
		"GIT_COMMITTER_DATE=2024-05-01T10:00:00Z",
	}, "commit", "-q", "--allow-empty", "-m", msg)
	return r.Git("rev-parse", "HEAD")
}

// Tag creates a lightweight tag at HEAD.
func (r *GitRepo) Tag(name string) {
	r.t.Helper()
	r.Git("tag", name)
}

// Git runs a git command in the repository and returns trimmed stdout.
func (r *GitRepo) Git(args ...string) string {
	r.t.Helper()
	return r.gitEnv(nil, args...)
}

func (r *GitRepo) gitEnv(env []string, args ...string) string {
	r.t.Helper()
	dir := r.Dir
	if len(args) > 0 && args[0] == "init" {
		dir = filepath.Dir(r.Dir)
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		r.t.Fatalf("git %s failed: %v: %s", strings.Join(args, " "), err, stderr.String())
	}
	return strings.TrimSpace(stdout.String())
}
