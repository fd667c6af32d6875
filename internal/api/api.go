// Package api is the optional HTTP surface: a status/health endpoint
// pair plus a proactive-send endpoint that lets an external caller push
// a message through a configured channel without waiting for an inbound
// turn. Each route is a method on Server taking a *gin.Context and
// responding with c.JSON(status, gin.H{...}).
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"omega/internal/channel"
)

// StatusSource is the subset of *gateway.Gateway the API surface reads;
// kept as a narrow interface rather than importing internal/gateway
// directly so this package has no dependency on gateway's own
// dependency graph.
type StatusSource interface {
	ActiveSenders() int
	QueueDepth(key string) int
}

// Server wraps the collaborators the API routes read from.
type Server struct {
	gateway  StatusSource
	channels *channel.Registry
	apiKey   string
}

// NewServer builds a Server; apiKey, when non-empty, is checked against
// the X-Omega-Api-Key header on every request except GET /health.
func NewServer(gw StatusSource, channels *channel.Registry, apiKey string) *Server {
	return &Server{gateway: gw, channels: channels, apiKey: apiKey}
}

// Router builds the gin.Engine serving /health, /status, and /api/send.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.Health)

	protected := router.Group("/")
	protected.Use(s.requireAPIKey)
	protected.GET("/status", s.Status)
	protected.POST("/api/send", s.SendMessage)

	return router
}

func (s *Server) requireAPIKey(c *gin.Context) {
	if s.apiKey == "" {
		c.Next()
		return
	}
	if c.GetHeader("X-Omega-Api-Key") != s.apiKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing api key"})
		c.Abort()
		return
	}
	c.Next()
}

// Health handles GET /health and never requires the api key, so a load
// balancer or process supervisor can probe it unauthenticated.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status handles GET /status, reporting dispatcher occupancy for
// operators driving the process from outside the configured channels.
func (s *Server) Status(c *gin.Context) {
	key := c.Query("key")
	resp := gin.H{"active_senders": s.gateway.ActiveSenders()}
	if key != "" {
		resp["queue_depth"] = s.gateway.QueueDepth(key)
	}
	c.JSON(http.StatusOK, resp)
}

// SendRequest is the body of POST /api/send.
type SendRequest struct {
	Channel string `json:"channel" binding:"required"`
	Target  string `json:"target" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

// SendMessage handles POST /api/send: a proactive push through an
// already-configured channel, bypassing the gateway's inbound turn
// sequence entirely since the message did not originate from a sender.
func (s *Server) SendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch, ok := s.channels.Get(req.Channel)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel: " + req.Channel})
		return
	}

	if err := ch.Send(req.Target, channel.Outgoing{Text: req.Text}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}
