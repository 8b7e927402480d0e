package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/store"
)

const defaultTopProducts = 5

type eventRequest struct {
	Type string          `json:"type" binding:"required,max=100"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) getSiteInfo(c *gin.Context) {
	info, err := store.GetSiteInfo(c.Request.Context(), s.db)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) updateSiteInfo(c *gin.Context) {
	var patch store.SiteInfoPatch
	if !s.bindJSON(c, &patch) {
		return
	}
	if err := patch.Validate(); err != nil {
		s.respondError(c, errBadRequest(err.Error()))
		return
	}

	info, err := store.UpdateSiteInfo(c.Request.Context(), s.db, patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) logEvent(c *gin.Context) {
	var req eventRequest
	if !s.bindJSON(c, &req) {
		return
	}

	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	var userID *int64
	if id := identity(c); id.UserID != 0 {
		userID = &id.UserID
	}

	event, err := store.InsertEvent(c.Request.Context(), s.db, req.Type, userID, data)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (s *Server) listEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if _, err := store.DecodeCursor(c.Query("cursor")); err != nil {
		s.respondError(c, errBadRequest("invalid cursor"))
		return
	}

	page, err := store.ListEventsCursor(c.Request.Context(), s.db, c.Query("type"), c.Query("cursor"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) analyticsSummary(c *gin.Context) {
	top, err := strconv.Atoi(c.DefaultQuery("top", strconv.Itoa(defaultTopProducts)))
	if err != nil || top < 1 || top > store.MaxPageSize {
		s.respondError(c, errBadRequest("top must be between 1 and 100"))
		return
	}

	summary, err := store.AnalyticsSummary(c.Request.Context(), s.db, top)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
