package gitsrc

import (
	"errors"
	"strconv"

	git "github.com/go-git/go-git/v5"
	gitPlumbing "github.com/go-git/go-git/v5/plumbing"
)

// Bootstrap clones URL into Path. If Path already holds a git repository, it
// is opened in place instead of re-cloned.
func (r *RecipeTree) Bootstrap() error {
	if r.Path == "" {
		return errors.New("gitsrc: path must be set to bootstrap")
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	if existing, err := git.PlainOpen(r.Path); err == nil {
		r.repo = existing
		return nil
	}

	if r.URL == "" {
		return errors.New("gitsrc: url must be set to clone a new recipe tree")
	}
	r.l.Debug("cloning recipe tree", "path", r.Path, "url", r.URL)
	repo, err := git.PlainClone(r.Path, false, &git.CloneOptions{URL: r.URL, Depth: 99999999})
	if err != nil {
		r.l.Error("clone failed", "url", r.URL, "error", err)
		return err
	}
	r.repo = repo
	return nil
}

// At returns the current HEAD commit hash.
func (r *RecipeTree) At() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

// Checkout moves the worktree to commit, returning the paths that changed
// relative to the previous HEAD (so PrepareBuild can limit re-parsing to the
// affected PKGBUILD directories).
func (r *RecipeTree) Checkout(commit string) ([]string, error) {
	if r.repo == nil {
		return nil, errors.New("gitsrc: recipe tree must be bootstrapped before checkout")
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()

	oldHead, err := r.repo.Head()
	if err != nil {
		return nil, err
	}
	if oldHead.Hash().String() == commit {
		return nil, nil
	}
	oldCommit, err := r.repo.CommitObject(oldHead.Hash())
	if err != nil {
		return nil, err
	}

	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, err
	}
	newHash := gitPlumbing.NewHash(commit)
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: newHash, Force: true}); err != nil {
		return nil, err
	}

	newCommit, err := r.repo.CommitObject(newHash)
	if err != nil {
		return nil, err
	}
	diff, err := newCommit.Patch(oldCommit)
	if err != nil {
		return nil, err
	}

	stats := diff.Stats()
	changed := make([]string, len(stats))
	for i, s := range stats {
		changed[i] = s.Name
	}
	r.l.Debug("checked out recipe tree", "path", r.Path, "commit", commit, "changed", strconv.Itoa(len(changed)))
	return changed, nil
}

// Fetch pulls new commits from origin without moving the worktree.
func (r *RecipeTree) Fetch() error {
	if r.repo == nil {
		return errors.New("gitsrc: recipe tree must be bootstrapped before fetch")
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()

	err := r.repo.Fetch(&git.FetchOptions{RemoteName: "origin"})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}
