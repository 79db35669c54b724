// README: API gateway; registers HTTP routes and delegates to module
// services. Lifecycle events reach clients over the websocket hub.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wheels/internal/http/handlers"
	"wheels/internal/http/middleware"
	"wheels/internal/modules/match"
	"wheels/internal/modules/offer"
	"wheels/internal/modules/pool"
	"wheels/internal/modules/trip"
	"wheels/internal/notify"
	"wheels/internal/types"
)

type ServerDeps struct {
	Pool  *pool.Service
	Match *match.Service
	Offer *offer.Service
	Trip  *trip.Service
	Hub   *notify.Hub
	Log   *slog.Logger
}

type Server struct {
	pool     *handlers.PoolHandler
	offer    *handlers.OfferHandler
	trip     *handlers.TripHandler
	hub      *notify.Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		pool:  handlers.NewPoolHandler(deps.Pool, deps.Match),
		offer: handlers.NewOfferHandler(deps.Offer),
		trip:  handlers.NewTripHandler(deps.Trip),
		hub:   deps.Hub,
		log:   deps.Log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log), middleware.Metrics())

	api := r.Group("/api")
	{
		api.POST("/pool", s.pool.Register)
		api.GET("/pool/:id", s.pool.Get)
		api.DELETE("/pool/:id", s.pool.Cancel)
		api.GET("/pool/:id/candidates", s.pool.Candidates)

		api.POST("/requests", s.offer.Submit)
		api.GET("/requests/:id", s.offer.Get)
		api.POST("/requests/:id/respond", s.offer.Respond)
		api.DELETE("/requests/:id", s.offer.Cancel)

		api.GET("/drivers/:id/assignment", s.offer.Assignment)
		api.DELETE("/drivers/:id/assignment/:passenger_id", s.offer.CancelAssignment)

		api.POST("/trips", s.trip.Start)
		api.POST("/trips/:id/depart", s.trip.Depart)
		api.POST("/trips/:id/steps/:index/complete", s.trip.CompleteStep)
		api.POST("/trips/:id/confirm_pickup", s.trip.ConfirmPickup)
		api.POST("/trips/:id/confirm_dropoff", s.trip.ConfirmDropoff)
		api.POST("/trips/:id/rate", s.trip.Rate)
		api.DELETE("/trips/:id", s.trip.Cancel)
		api.GET("/trips/:id", s.trip.Get)
		api.GET("/trips/:id/steps", s.trip.Steps)
		api.GET("/history", s.trip.History)
	}

	r.GET("/ws", s.handleWS)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// handleWS upgrades the connection and parks it in the hub. The socket
// is push-only; client frames are drained and discarded.
func (s *Server) handleWS(c *gin.Context) {
	actor := c.GetHeader("X-Actor-ID")
	if actor == "" {
		actor = c.Query("actor_id")
	}
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing actor identity"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade", "err", err)
		return
	}
	actorID := types.ID(actor)
	s.hub.Add(actorID, conn)
	go func() {
		defer s.hub.Remove(actorID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
