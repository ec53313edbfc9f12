package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// DatabaseInfo is the database identity half of a PackageSearchResult.
type DatabaseInfo struct {
	Name string `json:"name"`
	Arch string `json:"arch"`
}

// PackageSearchResult pairs a matched package with the database it was
// found in, matching spec §6's `GET /api/v0/packages` response shape.
type PackageSearchResult struct {
	DB  DatabaseInfo    `json:"db"`
	Pkg *pkgdata.Package `json:"pkg"`
}

// searchPackages implements `GET /api/v0/packages?mode=<m>&name=<q>`.
func (s *Server) searchPackages(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "name"
	}
	term := r.URL.Query().Get("name")

	pred, err := matchPredicate(mode, term)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.cfg.RWMu.RLock()
	defer s.cfg.RWMu.RUnlock()

	var results []PackageSearchResult
	for _, db := range s.cfg.Databases {
		for _, p := range db.FindPackages(pred) {
			results = append(results, PackageSearchResult{
				DB:  DatabaseInfo{Name: db.Name, Arch: db.Arch},
				Pkg: p,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// matchPredicate builds the Database.FindPackages predicate for one of the
// search modes spec §6 names: name, name-contains, regex, provides, depends,
// libprovides, libdepends.
func matchPredicate(mode, term string) (func(*pkgdata.Package) bool, error) {
	switch mode {
	case "name":
		return func(p *pkgdata.Package) bool { return p.Name == term }, nil
	case "name-contains":
		return func(p *pkgdata.Package) bool { return strings.Contains(p.Name, term) }, nil
	case "regex":
		re, err := regexp.Compile(term)
		if err != nil {
			return nil, err
		}
		return func(p *pkgdata.Package) bool { return re.MatchString(p.Name) }, nil
	case "provides":
		return func(p *pkgdata.Package) bool {
			for _, d := range p.Provides {
				if d.Name == term {
					return true
				}
			}
			return false
		}, nil
	case "depends":
		return func(p *pkgdata.Package) bool {
			for _, d := range p.Dependencies {
				if d.Name == term {
					return true
				}
			}
			return false
		}, nil
	case "libprovides":
		return func(p *pkgdata.Package) bool { return containsString(p.Libprovides, term) }, nil
	case "libdepends":
		return func(p *pkgdata.Package) bool { return containsString(p.Libdepends, term) }, nil
	default:
		return nil, errUnknownSearchMode(mode)
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

type errUnknownSearchMode string

func (e errUnknownSearchMode) Error() string { return "unknown search mode: " + string(e) }
