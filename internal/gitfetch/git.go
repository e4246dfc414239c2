// SPDX-License-Identifier: MPL-2.0

package gitfetch

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// gitEnv keeps the CLI from ever prompting for credentials.
var gitEnv = []string{
	"GIT_TERMINAL_PROMPT=0",
	"GIT_ASKPASS=",
	"GCM_INTERACTIVE=never",
}

// output runs git in dir and returns trimmed stdout. Stderr is captured into
// the returned *CommandError.
func output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), gitEnv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// run is output without the result.
func run(ctx context.Context, dir string, args ...string) error {
	_, err := output(ctx, dir, args...)
	return err
}

// IsGitInstalled reports whether the git binary is on PATH. Partial fetches
// and pseudo-version derivation need it; tag listing does not.
func IsGitInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}
