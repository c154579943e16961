package httpserver

import (
	"net/http"

	"git.home.luguber.info/inful/texbuilder/internal/server/handlers"
)

// Runtime bundles the services the HTTP handlers read from.
type Runtime struct {
	Compiler handlers.Compiler
	Engines  handlers.EngineInfo
	Jobs     handlers.JobSource
	History  handlers.BuildHistory // optional

	// Metrics serves /metrics; nil leaves the route unregistered.
	Metrics http.Handler
}
