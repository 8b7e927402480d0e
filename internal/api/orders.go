package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/orders"
)

const idempotencyKeyHeader = "Idempotency-Key"

// checkoutRequest carries the address only. Items, prices and the user
// always come from the server side cart and session.
type checkoutRequest struct {
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req checkoutRequest
	if !s.bindJSON(c, &req) {
		return
	}

	order, err := s.orders.PlaceOrder(c.Request.Context(), orders.PlaceOrderRequest{
		UserID:         identity(c).UserID,
		Address:        req.ShippingAddress,
		IdempotencyKey: c.GetHeader(idempotencyKeyHeader),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) orderSummary(c *gin.Context) {
	var req checkoutRequest
	if !s.bindJSON(c, &req) {
		return
	}

	summary, err := s.orders.Summary(c.Request.Context(), identity(c).UserID, req.ShippingAddress)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listOrders(c *gin.Context) {
	page, pageSize := pageParams(c)

	result, err := s.orders.ListOrders(c.Request.Context(), identity(c), page, pageSize)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getOrder(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	order, err := s.orders.GetOrder(c.Request.Context(), identity(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req statusRequest
	if !s.bindJSON(c, &req) {
		return
	}

	order, err := s.orders.UpdateStatus(c.Request.Context(), identity(c), id, req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) claimOrder(c *gin.Context) {
	order, err := s.orders.ClaimNext(c.Request.Context(), identity(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
