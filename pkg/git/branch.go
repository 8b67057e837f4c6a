// Package git resolves commit references and checks object visibility for
// devcoord, and detects the current branch of a workspace.
//
// The default backend reads the repository with go-git; a backend that
// shells out to the git binary is available for repositories go-git cannot
// read (for example, ones using extensions it does not support).
package git

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

var (
	// ErrNotGitRepo indicates the directory is not inside a Git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrMissingBinary indicates the git executable is not on PATH.
	ErrMissingBinary = errors.New("git binary not found")
)

// Detached is reported when HEAD does not point at a branch.
const Detached = "detached"

func openRepo(path string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, path)
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return repo, nil
}

// DetectBranch returns the branch HEAD points at for the repository
// containing path, or Detached. A freshly initialized repository without
// commits still reports its initial branch.
func DetectBranch(path string) (string, error) {
	repo, err := openRepo(path)
	if err != nil {
		return "", err
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return Detached, nil
	}
	return head.Target().Short(), nil
}

// Toplevel returns the root of the working tree containing path.
func Toplevel(path string) (string, error) {
	repo, err := openRepo(path)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	return wt.Filesystem.Root(), nil
}
