// Package http exposes the coordinator over a JSON HTTP API: session
// creation, grant minting, readiness signals, envelope publishing, and
// channel budget inspection.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openparlor/parlor/internal/coord/bus"
	"github.com/openparlor/parlor/internal/coord/capacity"
	"github.com/openparlor/parlor/internal/coord/coordinator"
	"github.com/openparlor/parlor/internal/coord/grant"
)

// Handler wires the coordination core behind the HTTP surface.
type Handler struct {
	coordinator *coordinator.Coordinator
	bus         bus.Bus
	tracker     *capacity.Tracker
	grantCfg    grant.Config
	limits      capacity.Limits
}

// NewHandler creates the HTTP handler. Limits apply to every session channel
// registered at creation; zero limits leave admission control disabled.
func NewHandler(c *coordinator.Coordinator, transport bus.Bus, tracker *capacity.Tracker, grantCfg grant.Config, limits capacity.Limits) *Handler {
	return &Handler{
		coordinator: c,
		bus:         transport,
		tracker:     tracker,
		grantCfg:    grantCfg,
		limits:      limits,
	}
}

// NewRouter builds the route tree.
//
// Session creation and grant minting are house-side operations served to the
// trusted process that runs the game; everything under a session id requires
// a participant grant.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ok") })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ready") })

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handler.createSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Post("/grants", handler.mintGrant)

				r.Group(func(r chi.Router) {
					r.Use(handler.grantMiddleware)
					r.Get("/", handler.getSession)
					r.Delete("/", handler.endSession)
					r.Post("/ready", handler.recordReady)
					r.Post("/envelopes", handler.publishEnvelope)
					r.Get("/channel", handler.getChannelInfo)
					r.Post("/transition", handler.manualTransition)
					r.Post("/tick", handler.tick)
					r.Delete("/participants/{participantID}", handler.removeParticipant)
				})
			})
		})
	})
	return r
}
