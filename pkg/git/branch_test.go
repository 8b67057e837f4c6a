package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository with one commit containing files.
func initRepo(t *testing.T, files map[string]string) (string, *gogit.Repository, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	for name, content := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, repo, hash
}

func TestDetectBranch(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  string
	}{
		{
			name: "initial branch without commits",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				_, err := gogit.PlainInit(dir, false)
				require.NoError(t, err)
				return dir
			},
			want: "master",
		},
		{
			name: "feature branch",
			setup: func(t *testing.T) string {
				dir, repo, _ := initRepo(t, map[string]string{"a.txt": "a"})
				ref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("feature/gates"))
				require.NoError(t, repo.Storer.SetReference(ref))
				return dir
			},
			want: "feature/gates",
		},
		{
			name: "detached HEAD",
			setup: func(t *testing.T) string {
				dir, repo, hash := initRepo(t, map[string]string{"a.txt": "a"})
				require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, hash)))
				return dir
			},
			want: Detached,
		},
		{
			name: "nested directory",
			setup: func(t *testing.T) string {
				dir, _, _ := initRepo(t, map[string]string{"docs/a.md": "a"})
				return filepath.Join(dir, "docs")
			},
			want: "master",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectBranch(tt.setup(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectBranch_NotARepo(t *testing.T) {
	_, err := DetectBranch(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotGitRepo)
}

func TestToplevel(t *testing.T) {
	dir, _, _ := initRepo(t, map[string]string{"docs/a.md": "a"})

	root, err := Toplevel(filepath.Join(dir, "docs"))
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
