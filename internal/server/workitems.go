package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openimaging/upsd/pkg/api"
)

var (
	ErrInvalidJSON  = errors.New("invalid JSON request")
	ErrInvalidState = errors.New("invalid procedure step state")
	ErrReadBody     = errors.New("failed to read request body")
)

func (s *Server) createWorkitem(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrReadBody, err),
			Status: http.StatusBadRequest,
		})
		return
	}
	attrs := api.Dataset(body)
	if len(attrs) == 0 {
		attrs = api.Dataset("{}")
	}

	w, err := s.service.Create(c.Request.Context(), attrs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, api.CreatedResponse{
		UID: w.UID,
	})
}

func (s *Server) searchWorkitems(c *gin.Context) {
	filters := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			filters[key] = values[0]
		}
	}

	items, err := s.service.Search(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.WorkitemsResponse{
		Workitems: items,
		Count:     len(items),
	})
}

func (s *Server) getWorkitem(c *gin.Context) {
	uid := api.WorkitemUID(c.Param("workitem"))

	w, err := s.service.Retrieve(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

func (s *Server) updateWorkitem(c *gin.Context) {
	uid := api.WorkitemUID(c.Param("workitem"))

	req := api.UpdateRequest{ExpectedVersion: -1}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	w, err := s.service.UpdateAttributes(
		c.Request.Context(), uid, req.ExpectedVersion, req.Patch,
		req.TransactionUID,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

func (s *Server) changeState(c *gin.Context) {
	uid := api.WorkitemUID(c.Param("workitem"))

	var req api.ChangeStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	state, err := api.ParseProcedureStepState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %q", ErrInvalidState, req.State),
			Status: http.StatusBadRequest,
		})
		return
	}

	w, err := s.service.ChangeState(
		c.Request.Context(), uid, state, req.TransactionUID,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

func (s *Server) requestCancel(c *gin.Context) {
	uid := api.WorkitemUID(c.Param("workitem"))

	// An empty body is a cancel request with no reason attached
	var req api.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil &&
		!errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.service.RequestCancel(c.Request.Context(), uid, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}
