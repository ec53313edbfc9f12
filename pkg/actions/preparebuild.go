package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/gitsrc"
	"github.com/archrepod/buildsvc/pkg/pkgbuild"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// PrepareBuild locates, parses, and batches PKGBUILDs for ConductBuild,
// per spec §4.7.
type PrepareBuild struct {
	Config *pkgdata.Config

	// RecipeTree, if set, is bootstrapped and fetched ahead of the
	// searchDirs walk so PKGBUILDs tracked in a git recipe tree (spec §4.7
	// step 1) resolve the same way as any other configured directory.
	RecipeTree *gitsrc.RecipeTree
}

// Run implements Runner.
func (a *PrepareBuild) Run(ctx context.Context, action *buildaction.BuildAction, sess *Session) {
	action.Lock()
	destNames := append([]string(nil), action.DestinationDbs...)
	pkgNames := append([]string(nil), action.PackageNames...)
	searchDirs := strings.Split(action.Settings["pkgbuildsDirs"], ":")
	forceBump := action.Flags.Has(buildaction.FlagForceBumpPkgRel)
	keepOrder := action.Flags.Has(buildaction.FlagKeepOrder)
	keepPkgRelAndEpoch := action.Flags.Has(buildaction.FlagKeepPkgRelAndEpoch)
	considerBuildDeps := action.Flags.Has(buildaction.FlagConsiderBuildDependencies)
	includeAllDeps := action.Flags.Has(buildaction.FlagIncludeAllDependencies)
	cleanSrcDir := action.Flags.Has(buildaction.FlagCleanSrcDir)
	action.Unlock()

	if len(destNames) != 1 {
		sess.LogError("", "not exactly one destination database specified")
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "not exactly one destination database specified"})
		return
	}

	if err := sess.EnsureWorkingDirectory(); err != nil {
		sess.LogError("", err.Error())
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
		return
	}

	// step 1: bring the git recipe tree up to date and add it to the
	// search path, ahead of the plain local directories.
	if a.RecipeTree != nil {
		if err := a.RecipeTree.Bootstrap(); err != nil {
			sess.LogError("", fmt.Sprintf("bootstrapping recipe tree: %v", err))
			sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
			return
		}
		if err := a.RecipeTree.Fetch(); err != nil {
			sess.LogWarning("", fmt.Sprintf("fetching recipe tree updates: %v", err))
		}
		searchDirs = append([]string{a.RecipeTree.Path}, searchDirs...)
	}

	// step 1-2: locate and parse a PKGBUILD per requested package name.
	recipes := make(map[string]*pkgbuild.Recipe, len(pkgNames))
	dirs := make(map[string]string, len(pkgNames))
	for _, name := range pkgNames {
		dir, path, err := locatePKGBUILD(name, searchDirs)
		if err != nil {
			sess.LogError("", err.Error())
			sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
			return
		}
		recipe, err := pkgbuild.ParseFile(path)
		if err != nil {
			sess.LogError("", fmt.Sprintf("%s: %v", name, err))
			sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
			return
		}
		for _, pn := range recipe.Pkgname {
			recipes[pn] = recipe
			dirs[pn] = dir
		}
	}

	a.Config.RWMu.RLock()
	db := a.Config.FindDatabase(destNames[0], "")
	a.Config.RWMu.RUnlock()
	if db == nil {
		sess.LogError("", fmt.Sprintf("unknown destination database %q", destNames[0]))
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: "unknown destination database"})
		return
	}

	// step 3: build a dependency graph over the input set. The graph is not
	// extended with further dependencies, with or without
	// IncludeAllDependencies.
	graph := buildRecipeGraph(recipes, considerBuildDeps, includeAllDeps)

	// step 4: partition into batches by longest-path layering.
	var order []string
	if keepOrder {
		order = pkgNames
	} else {
		order = graph.topologicalOrder()
	}
	batches := layerIntoBatches(order, graph)

	// step 5: pkgrel bump unless KeepPkgRelAndEpoch.
	pkgRelBumps := make(map[string]string)
	if !keepPkgRelAndEpoch {
		a.Config.RWMu.RLock()
		for name, recipe := range recipes {
			existing, ok := db.Package(name)
			if ok {
				bumped := bumpPkgrel(existing.Version, recipe.Pkgrel)
				pkgRelBumps[name] = bumped
				recipe.Pkgrel = bumped
			} else if forceBump {
				pkgRelBumps[name] = "1"
				recipe.Pkgrel = "1"
			}
		}
		a.Config.RWMu.RUnlock()
	}

	// step 6 & 7: clean src dirs, copy PKGBUILDs, emit preparation/progress.
	for name, recipe := range recipes {
		pkgDir := filepath.Join(sess.WorkingDirectory(), name)
		srcDir := filepath.Join(pkgDir, "src")
		if cleanSrcDir {
			if err := os.RemoveAll(srcDir); err != nil {
				sess.LogWarning("", fmt.Sprintf("%s: cleaning src dir: %v", name, err))
			}
		}
		if err := os.MkdirAll(srcDir, 0o755); err != nil {
			sess.LogError("", err.Error())
			sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
			return
		}
		if err := copyFile(filepath.Join(dirs[name], "PKGBUILD"), filepath.Join(srcDir, "PKGBUILD")); err != nil {
			sess.LogError("", err.Error())
			sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
			return
		}
		_ = recipe
	}

	prep := &buildaction.BuildPreparation{Batches: batches, PkgRelBumps: pkgRelBumps}
	if err := writeJSON(filepath.Join(sess.WorkingDirectory(), "build-preparation.json"), prep); err != nil {
		sess.LogError("", err.Error())
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
		return
	}

	progress := &buildaction.BuildProgress{Finished: make(map[string]bool)}
	if err := writeJSON(filepath.Join(sess.WorkingDirectory(), "build-progress.json"), progress); err != nil {
		sess.LogError("", err.Error())
		sess.Conclude(buildaction.ResultFailure, buildaction.ResultData{Message: err.Error()})
		return
	}

	sess.LogSuccess("", fmt.Sprintf("prepared %d packages in %d batches", len(recipes), len(batches)))
	sess.Conclude(buildaction.ResultSuccess, buildaction.ResultData{BuildPreparation: prep})
}

// locatePKGBUILD searches searchDirs (then name itself, as a last-resort
// default location) for "<dir>/<name>/PKGBUILD" (spec §4.7 step 1).
func locatePKGBUILD(name string, searchDirs []string) (dir, path string, err error) {
	candidates := append([]string(nil), searchDirs...)
	candidates = append(candidates, ".")
	for _, base := range candidates {
		if base == "" {
			continue
		}
		d := filepath.Join(base, name)
		p := filepath.Join(d, "PKGBUILD")
		if _, statErr := os.Stat(p); statErr == nil {
			return d, p, nil
		}
	}
	return "", "", fmt.Errorf("could not locate a PKGBUILD for %q", name)
}

// recipeGraph is the dependency graph over the requested package names,
// limited to edges between names present in the input set (spec §4.7 step 3).
type recipeGraph struct {
	names []string
	edges map[string][]string // name -> names it depends on, within the set
}

func buildRecipeGraph(recipes map[string]*pkgbuild.Recipe, considerBuildDeps, includeAll bool) *recipeGraph {
	g := &recipeGraph{edges: make(map[string][]string)}
	for name := range recipes {
		g.names = append(g.names, name)
	}
	for name, recipe := range recipes {
		var deps []string
		deps = append(deps, recipe.Depends...)
		if considerBuildDeps {
			deps = append(deps, recipe.MakeDepends...)
			deps = append(deps, recipe.CheckDepends...)
		}
		var relevant []string
		for _, d := range deps {
			depName := strings.FieldsFunc(d, func(r rune) bool {
				return r == '=' || r == '<' || r == '>'
			})[0]
			if _, ok := recipes[depName]; ok {
				relevant = append(relevant, depName)
			}
		}
		g.edges[name] = relevant
	}
	_ = includeAll // unused: edges are only drawn between requested packages
	return g
}

// topologicalOrder returns a deterministic dependency-respecting order:
// dependencies appear before dependents. Names are visited in sorted order.
// Cycles are broken by visit order: a name already visited is not revisited,
// and no error is reported for the cycle.
func (g *recipeGraph) topologicalOrder() []string {
	visited := make(map[string]bool)
	var order []string
	var visit func(string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range g.edges[name] {
			visit(dep)
		}
		order = append(order, name)
	}
	names := append([]string(nil), g.names...)
	sort.Strings(names)
	for _, name := range names {
		visit(name)
	}
	return order
}

// layerIntoBatches assigns each name in order to batch k = 1 +
// max(batch of its in-set dependencies), batch 0 for names with none
// (spec §4.7 step 4: longest-path layering).
func layerIntoBatches(order []string, g *recipeGraph) [][]string {
	layer := make(map[string]int, len(order))
	var compute func(string) int
	computing := make(map[string]bool)
	compute = func(name string) int {
		if l, ok := layer[name]; ok {
			return l
		}
		if computing[name] {
			return 0 // cycle: treat as batch 0 rather than recursing forever
		}
		computing[name] = true
		max := -1
		for _, dep := range g.edges[name] {
			if l := compute(dep); l > max {
				max = l
			}
		}
		layer[name] = max + 1
		computing[name] = false
		return layer[name]
	}

	maxLayer := 0
	for _, name := range order {
		l := compute(name)
		if l > maxLayer {
			maxLayer = l
		}
	}

	batches := make([][]string, maxLayer+1)
	for _, name := range order {
		l := layer[name]
		batches[l] = append(batches[l], name)
	}
	return batches
}

// bumpPkgrel implements spec §4.7 step 5: bump the existing package's pkgrel
// by +1 when the destination already has a same-named package, ignoring the
// PKGBUILD's own declared pkgrel; epoch is never touched here.
func bumpPkgrel(existingVersion, fallback string) string {
	parts := strings.SplitN(existingVersion, "-", 2)
	if len(parts) != 2 {
		return fallback
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return fallback
	}
	return strconv.Itoa(n + 1)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
