// Package httpapi exposes the build-action engine and package index over
// HTTP (spec §6): GET /api/v0/packages, and list/create/get/abort for build
// actions. Adapted from the teacher's pkg/http, mounting chi sub-routers the
// same way.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

// Server wraps the request router and the engine/config it serves.
type Server struct {
	l hclog.Logger
	r chi.Router
	n *http.Server

	cfg    *pkgdata.Config
	engine *buildaction.Engine
}
