package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/metrics"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type createProductRequest struct {
	SKU         string          `json:"sku" binding:"required"`
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" binding:"min=0"`
	Sizes       string          `json:"sizes"`
	Colors      string          `json:"colors"`
}

type adjustStockRequest struct {
	Delta int `json:"delta" binding:"required"`
}

type setStockRequest struct {
	Stock   *int `json:"stock" binding:"required,min=0"`
	Version int  `json:"version" binding:"required,min=1"`
}

func (s *Server) listProducts(c *gin.Context) {
	page, pageSize := pageParams(c)

	result, err := store.ListProducts(c.Request.Context(), s.db, c.Query("category"), page, pageSize)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getProduct(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	product, err := store.GetProduct(c.Request.Context(), s.db, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) createProduct(c *gin.Context) {
	var req createProductRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if !req.Price.IsPositive() {
		s.respondError(c, errBadRequest("price must be positive"))
		return
	}

	product, err := store.CreateProduct(c.Request.Context(), s.db, store.NewProduct{
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Image:       req.Image,
		Price:       req.Price,
		Stock:       req.Stock,
		Sizes:       req.Sizes,
		Colors:      req.Colors,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	metrics.ObserveStock(product.ID, product.StockQuantity)
	c.JSON(http.StatusCreated, product)
}

func (s *Server) updateProduct(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	var patch store.ProductPatch
	if !s.bindJSON(c, &patch) {
		return
	}
	if err := patch.Validate(); err != nil {
		s.respondError(c, errBadRequest(err.Error()))
		return
	}

	product, err := store.UpdateProduct(c.Request.Context(), s.db, id, patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) adjustStock(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req adjustStockRequest
	if !s.bindJSON(c, &req) {
		return
	}

	product, err := store.AdjustStock(c.Request.Context(), s.db, id, req.Delta)
	if err != nil {
		s.respondError(c, err)
		return
	}

	metrics.ObserveStock(product.ID, product.StockQuantity)
	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"delta":      req.Delta,
		"stock":      product.StockQuantity,
	}).Info("stock adjusted")

	c.JSON(http.StatusOK, product)
}

func (s *Server) setStock(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		s.respondError(c, err)
		return
	}

	var req setStockRequest
	if !s.bindJSON(c, &req) {
		return
	}

	product, err := store.SetStockOptimistic(c.Request.Context(), s.db, id, *req.Stock, req.Version)
	if err != nil {
		s.respondError(c, err)
		return
	}

	metrics.ObserveStock(product.ID, product.StockQuantity)
	c.JSON(http.StatusOK, product)
}
