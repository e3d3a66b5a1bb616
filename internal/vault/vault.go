// Package vault keeps a local checkout of the notes repository current.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
)

// Sync clones the vault repository if localPath does not exist yet, or
// pulls the latest changes if it does. An empty url leaves an existing
// local vault untouched.
func Sync(url, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case os.IsNotExist(err):
		if url == "" {
			return fmt.Errorf("vault %s does not exist and no vault url is configured", localPath)
		}
		slog.Info("cloning vault", "url", url, "path", localPath)
		if _, err := git.PlainClone(localPath, false, &git.CloneOptions{URL: url}); err != nil {
			return fmt.Errorf("clone vault %s: %w", url, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat vault path %s: %w", localPath, err)
	}

	if url == "" {
		slog.Debug("no vault url configured, using local checkout as-is", "path", localPath)
		return nil
	}

	repo, err := git.PlainOpen(localPath)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			slog.Debug("vault path is not a git checkout, skipping pull", "path", localPath)
			return nil
		}
		return fmt.Errorf("open vault at %s: %w", localPath, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("vault worktree at %s: %w", localPath, err)
	}
	slog.Info("pulling vault", "path", localPath)
	err = worktree.Pull(&git.PullOptions{RemoteName: "origin"})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull vault at %s: %w", localPath, err)
	}
	return nil
}
