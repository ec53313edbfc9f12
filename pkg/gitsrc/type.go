// Package gitsrc manages the git checkout of the PKGBUILD recipe tree that
// PrepareBuild searches (spec §4.7 step 1). Adapted from the teacher's
// pkg/source, which managed a srcpkgs tree the same way.
package gitsrc

import (
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/hashicorp/go-hclog"
)

// A RecipeTree manages the git side of a checked-out PKGBUILD recipe tree.
type RecipeTree struct {
	l    hclog.Logger
	Path string
	URL  string
	Mu   *sync.Mutex
	repo *git.Repository
}

// New returns a RecipeTree rooted at path, cloned from url on Bootstrap.
func New(l hclog.Logger, path, url string) *RecipeTree {
	return &RecipeTree{
		l:    l.Named("gitsrc"),
		Path: path,
		URL:  url,
		Mu:   new(sync.Mutex),
	}
}
