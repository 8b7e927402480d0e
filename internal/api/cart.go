package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/store"
)

type addCartItemRequest struct {
	ProductID int64  `json:"product_id" binding:"required,min=1"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type cartQuantityRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

func (s *Server) listCart(c *gin.Context) {
	items, err := store.ListCart(c.Request.Context(), s.db, identity(c).UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if !s.bindJSON(c, &req) {
		return
	}

	item, err := store.AddCartItem(c.Request.Context(), s.db, identity(c).UserID, req.ProductID, req.Quantity, req.Size, req.Color)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *Server) updateCartItem(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req cartQuantityRequest
	if !s.bindJSON(c, &req) {
		return
	}

	item, err := store.UpdateCartItemQuantity(c.Request.Context(), s.db, identity(c).UserID, id, req.Quantity)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) removeCartItem(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	if err := store.RemoveCartItem(c.Request.Context(), s.db, identity(c).UserID, id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearCart(c *gin.Context) {
	if _, err := store.ClearCart(c.Request.Context(), s.db, identity(c).UserID); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
