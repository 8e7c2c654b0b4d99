package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openimaging/upsd/pkg/api"
)

var ErrInvalidAETitle = errors.New("invalid AE title")

func (s *Server) subscribe(c *gin.Context) {
	scope := api.WorkitemUID(c.Param("workitem"))
	ae, ok := subscriberAE(c)
	if !ok {
		return
	}

	// An empty body is a plain subscription without filter or lock
	var req api.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil &&
		!errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	sub, err := s.service.Subscribe(c.Request.Context(), scope, ae, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

func (s *Server) unsubscribe(c *gin.Context) {
	scope := api.WorkitemUID(c.Param("workitem"))
	ae, ok := subscriberAE(c)
	if !ok {
		return
	}

	if err := s.service.Unsubscribe(c.Request.Context(), scope, ae); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) suspendSubscription(c *gin.Context) {
	scope := api.WorkitemUID(c.Param("workitem"))
	ae, ok := subscriberAE(c)
	if !ok {
		return
	}

	if err := s.service.Suspend(c.Request.Context(), scope, ae); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

func subscriberAE(c *gin.Context) (api.AETitle, bool) {
	ae := api.SanitizeAETitle(api.AETitle(c.Param("aetitle")))
	if ae == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %q", ErrInvalidAETitle, c.Param("aetitle")),
			Status: http.StatusBadRequest,
		})
		return "", false
	}
	return ae, true
}
