// SPDX-License-Identifier: MPL-2.0

package gitfetch

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// credentials holds what was found in the environment. Each transport only
// ever receives the method it understands.
type credentials struct {
	ssh   transport.AuthMethod
	token *http.BasicAuth
}

// loadCredentials looks for an SSH key in ~/.ssh and a token in
// GITHUB_TOKEN, GITLAB_TOKEN or GIT_TOKEN. Missing credentials are fine:
// public repositories need none.
func loadCredentials(getenv func(string) string) credentials {
	return credentials{ssh: trySSHAuth(), token: tryHTTPAuth(getenv)}
}

// forURL picks the go-git auth method matching the URL's transport.
func (c credentials) forURL(url string) transport.AuthMethod {
	switch {
	case isSSHURL(url):
		return c.ssh
	case strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://"):
		if c.token != nil {
			return c.token
		}
	}
	return nil
}

// gitConfigArgs returns "-c" flags that hand the token to the git CLI for
// HTTPS remotes without touching any credential helper.
func (c credentials) gitConfigArgs(url string) []string {
	if c.token == nil || !strings.HasPrefix(url, "https://") {
		return nil
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.token.Username + ":" + c.token.Password))
	return []string{"-c", "http.extraHeader=Authorization: Basic " + basic}
}

func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "ssh://") || strings.HasPrefix(url, "git@")
}

func trySSHAuth() transport.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	keyPaths := []string{
		filepath.Join(homeDir, ".ssh", "id_ed25519"),
		filepath.Join(homeDir, ".ssh", "id_rsa"),
		filepath.Join(homeDir, ".ssh", "id_ecdsa"),
	}

	for _, keyPath := range keyPaths {
		if _, err := os.Stat(keyPath); err == nil {
			auth, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
			if err == nil {
				return auth
			}
		}
	}

	return nil
}

func tryHTTPAuth(getenv func(string) string) *http.BasicAuth {
	if token := getenv("GITHUB_TOKEN"); token != "" {
		return &http.BasicAuth{Username: "x-access-token", Password: token}
	}
	if token := getenv("GITLAB_TOKEN"); token != "" {
		return &http.BasicAuth{Username: "gitlab-ci-token", Password: token}
	}
	if token := getenv("GIT_TOKEN"); token != "" {
		return &http.BasicAuth{Username: "git", Password: token}
	}
	return nil
}
