package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Resolver canonicalizes commit references and answers visibility checks.
type Resolver interface {
	// Canonicalize returns the full commit id for ref, or ref unchanged
	// when it cannot be resolved. It never fails.
	Canonicalize(ctx context.Context, ref string) string

	// Exists reports whether ref resolves to a commit.
	Exists(ctx context.Context, ref string) bool

	// ExistsAtPath reports whether relPath is present in the tree of ref.
	ExistsAtPath(ctx context.Context, ref, relPath string) bool
}

// Backend names accepted by NewResolver.
const (
	BackendGoGit = "gogit"
	BackendCLI   = "cli"
)

// NewResolver returns the resolver for backend rooted at dir.
func NewResolver(backend, dir string) (Resolver, error) {
	switch backend {
	case "", BackendGoGit:
		return NewGoGitResolver(dir)
	case BackendCLI:
		return NewCLIResolver(dir)
	}
	return nil, fmt.Errorf("unknown git backend %q", backend)
}

// GoGitResolver reads the repository in-process with go-git.
type GoGitResolver struct {
	repo *gogit.Repository
}

// NewGoGitResolver opens the repository containing dir.
func NewGoGitResolver(dir string) (*GoGitResolver, error) {
	repo, err := openRepo(dir)
	if err != nil {
		return nil, err
	}
	return &GoGitResolver{repo: repo}, nil
}

func (r *GoGitResolver) resolve(ref string) (*plumbing.Hash, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, false
	}
	if _, err := r.repo.CommitObject(*hash); err != nil {
		return nil, false
	}
	return hash, true
}

// Canonicalize implements Resolver.
func (r *GoGitResolver) Canonicalize(_ context.Context, ref string) string {
	if hash, ok := r.resolve(ref); ok {
		return hash.String()
	}
	return strings.TrimSpace(ref)
}

// Exists implements Resolver.
func (r *GoGitResolver) Exists(_ context.Context, ref string) bool {
	_, ok := r.resolve(ref)
	return ok
}

// ExistsAtPath implements Resolver.
func (r *GoGitResolver) ExistsAtPath(_ context.Context, ref, relPath string) bool {
	hash, ok := r.resolve(ref)
	if !ok {
		return false
	}
	p := cleanPath(relPath)
	if p == "" {
		return false
	}
	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return false
	}
	tree, err := commit.Tree()
	if err != nil {
		return false
	}
	_, err = tree.FindEntry(p)
	return err == nil
}

// CLIResolver shells out to the git binary.
type CLIResolver struct {
	dir string
	bin string
}

// NewCLIResolver locates git on PATH. It fails with ErrMissingBinary when
// git is not installed.
func NewCLIResolver(dir string) (*CLIResolver, error) {
	bin, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingBinary, err)
	}
	return &CLIResolver{dir: dir, bin: bin}, nil
}

func (r *CLIResolver) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.bin, append([]string{"-C", r.dir}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// Canonicalize implements Resolver.
func (r *CLIResolver) Canonicalize(ctx context.Context, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	out, err := r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil || out == "" {
		return ref
	}
	return out
}

// Exists implements Resolver.
func (r *CLIResolver) Exists(ctx context.Context, ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	_, err := r.run(ctx, "cat-file", "-e", ref+"^{commit}")
	return err == nil
}

// ExistsAtPath implements Resolver.
func (r *CLIResolver) ExistsAtPath(ctx context.Context, ref, relPath string) bool {
	ref = strings.TrimSpace(ref)
	p := cleanPath(relPath)
	if ref == "" || p == "" {
		return false
	}
	_, err := r.run(ctx, "cat-file", "-e", ref+":"+p)
	return err == nil
}

// NopResolver is used outside a repository: references stay as given and
// nothing is visible.
type NopResolver struct{}

// Canonicalize implements Resolver.
func (NopResolver) Canonicalize(_ context.Context, ref string) string { return strings.TrimSpace(ref) }

// Exists implements Resolver.
func (NopResolver) Exists(context.Context, string) bool { return false }

// ExistsAtPath implements Resolver.
func (NopResolver) ExistsAtPath(context.Context, string, string) bool { return false }

func cleanPath(p string) string {
	p = strings.TrimSpace(filepath.ToSlash(p))
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." || p == ".." || strings.HasPrefix(p, "../") || strings.HasPrefix(p, "/") {
		return ""
	}
	return p
}
