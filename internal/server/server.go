package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/openimaging/upsd/internal/store"
	"github.com/openimaging/upsd/internal/util"
	"github.com/openimaging/upsd/internal/worklist"
	"github.com/openimaging/upsd/pkg/api"
)

// Server implements the HTTP API server for the worklist
type Server struct {
	service *worklist.Service
	sockets util.Set[*Client]
	mu      sync.Mutex
}

// NewServer creates a new HTTP API server
func NewServer(svc *worklist.Service) *Server {
	return &Server{
		service: svc,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	// Workitem endpoints
	wi := router.Group("/workitems")
	{
		wi.POST("", s.createWorkitem)
		wi.GET("", s.searchWorkitems)
		wi.GET("/:workitem", s.getWorkitem)
		wi.POST("/:workitem", s.updateWorkitem)
		wi.PUT("/:workitem/state", s.changeState)
		wi.POST("/:workitem/cancelrequest", s.requestCancel)

		// Subscription endpoints
		wi.POST("/:workitem/subscribers/:aetitle", s.subscribe)
		wi.DELETE("/:workitem/subscribers/:aetitle", s.unsubscribe)
		wi.POST("/:workitem/subscribers/:aetitle/suspend", s.suspendSubscription)
	}

	// WebSocket notification channel
	router.GET("/ws/subscribers/:aetitle", s.handleWebSocket)

	return router
}

// errorStatus maps a service error to its HTTP status code
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrExists),
		errors.Is(err, worklist.ErrInvalidTransition),
		errors.Is(err, worklist.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, worklist.ErrUnauthorized),
		errors.Is(err, worklist.ErrPatchState),
		errors.Is(err, worklist.ErrInvalidUID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
