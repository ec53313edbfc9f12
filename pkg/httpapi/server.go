package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// New initializes the server with its default routers.
func New(l hclog.Logger, cfg *pkgdata.Config, engine *buildaction.Engine) (*Server, error) {
	s := Server{
		l:      l.Named("httpapi"),
		r:      chi.NewRouter(),
		n:      &http.Server{},
		cfg:    cfg,
		engine: engine,
	}

	s.r.Use(middleware.Logger)
	s.r.Use(middleware.Heartbeat("/healthz"))

	s.r.Get("/", s.rootIndex)
	s.r.Route("/api/v0", func(r chi.Router) {
		r.Get("/packages", s.searchPackages)
		r.Route("/build-actions", func(r chi.Router) {
			r.Get("/", s.listBuildActions)
			r.Post("/", s.createBuildAction)
			r.Get("/{id}", s.getBuildAction)
			r.Post("/{id}/abort", s.abortBuildAction)
		})
	})

	return &s, nil
}

// Serve binds, initializes the mux, and serves forever.
func (s *Server) Serve(bind string) error {
	s.l.Info("HTTP is starting", "bind", bind)
	s.n.Addr = bind
	s.n.Handler = s.r
	return s.n.ListenAndServe()
}

func (s *Server) rootIndex(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "buildsvc is running, see /api/v0 for the package and build-action surface")
}

// Mount attaches a set of routes to the subpath specified by the path
// argument.
func (s *Server) Mount(path string, router chi.Router) {
	s.r.Mount(path, router)
}
