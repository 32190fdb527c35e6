// Package api provides the HTTP admin API of an ObscuraProto server:
// public key distribution for clients and read access to the security
// audit log.
package api

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kretoffer/obscuraproto/pkg/auditlog"
	"github.com/kretoffer/obscuraproto/pkg/network"
)

// Server is the HTTP admin server wrapping a protocol node.
type Server struct {
	node       *network.Server
	store      *auditlog.Store
	router     *gin.Engine
	port       int
	startTime  time.Time
	httpServer *http.Server
}

// Config holds admin server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default admin server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates the admin server. The audit store may be nil, in
// which case the events endpoints report it unavailable.
func NewServer(node *network.Server, store *auditlog.Store, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if config.EnableCORS {
		router.Use(CORSMiddleware())
	}

	server := &Server{
		node:      node,
		store:     store,
		router:    router,
		port:      config.Port,
		startTime: time.Now(),
	}
	server.setupRoutes()
	return server
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/publickey", s.handlePublicKey)
		v1.GET("/status", s.handleStatus)
		v1.GET("/events", s.handleEvents)
		v1.GET("/events/summary", s.handleEventSummary)
	}

	s.router.GET("/health", s.handleHealth)
}

// Router exposes the gin engine, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("admin API server error: %v\n", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// PublicKeyResponse carries the node's identity key for clients to pin.
type PublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// handlePublicKey handles GET /api/v1/publickey
func (s *Server) handlePublicKey(c *gin.Context) {
	pub := s.node.PublicKey()
	c.JSON(http.StatusOK, PublicKeyResponse{
		PublicKey: hex.EncodeToString(pub[:]),
	})
}

// StatusResponse describes the running node.
type StatusResponse struct {
	Connections   int    `json:"connections"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	ListenAddr    string `json:"listenAddr"`
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Connections:   s.node.ConnCount(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		ListenAddr:    s.node.Addr(),
	})
}

// EventResponse is one audit record.
type EventResponse struct {
	ID     int64     `json:"id"`
	Time   time.Time `json:"time"`
	Conn   uint64    `json:"connId"`
	Remote string    `json:"remote"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

// ErrorResponse is the error body of every failing endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleEvents handles GET /api/v1/events?limit=N
func (s *Server) handleEvents(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "audit log not configured"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive number"})
			return
		}
		limit = parsed
	}

	events, err := s.store.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, EventResponse{
			ID: ev.ID, Time: ev.Time, Conn: ev.Conn,
			Remote: ev.Remote, Kind: ev.Kind, Detail: ev.Detail,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// handleEventSummary handles GET /api/v1/events/summary
func (s *Server) handleEventSummary(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "audit log not configured"})
		return
	}

	counts, err := s.store.CountByKind()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
