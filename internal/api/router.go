// Package api is the HTTP surface of the storefront: a gin engine with
// bearer-token authentication, capability checks and JSON error mapping.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/metrics"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/orders"
	log "github.com/sirupsen/logrus"
)

// Accounts is the part of auth.Service the account endpoints use.
type Accounts interface {
	Authenticator
	Register(ctx context.Context, in auth.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.Session, *models.User, error)
	Logout(ctx context.Context, token string) error
}

type Deps struct {
	DB         *sql.DB
	Accounts   Accounts
	Orders     *orders.Service
	Logger     log.FieldLogger
	Production bool
}

type Server struct {
	db         *sql.DB
	auth       Authenticator
	accounts   Accounts
	orders     *orders.Service
	logger     log.FieldLogger
	production bool
}

func NewServer(d Deps) *Server {
	return &Server{
		db:         d.DB,
		auth:       d.Accounts,
		accounts:   d.Accounts,
		orders:     d.Orders,
		logger:     d.Logger,
		production: d.Production,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	if s.production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(s.logger))
	router.Use(metrics.PrometheusMiddleware())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := s.requireAuth()
	admin := func(capability auth.Capability) []gin.HandlerFunc {
		return []gin.HandlerFunc{authed, s.requireCapability(capability)}
	}

	api := router.Group("/api")

	accounts := api.Group("/auth")
	accounts.POST("/register", s.register)
	accounts.POST("/login", s.login)
	accounts.POST("/logout", authed, s.logout)
	accounts.GET("/me", authed, s.me)

	products := api.Group("/products")
	products.GET("", s.listProducts)
	products.GET("/:id", s.getProduct)
	products.POST("", append(admin(auth.CapManageCatalog), s.createProduct)...)
	products.PATCH("/:id", append(admin(auth.CapManageCatalog), s.updateProduct)...)

	inventory := api.Group("/inventory", admin(auth.CapManageInventory)...)
	inventory.POST("/:id/adjust", s.adjustStock)
	inventory.PUT("/:id/stock", s.setStock)

	cart := api.Group("/cart", authed)
	cart.GET("", s.listCart)
	cart.DELETE("", s.clearCart)
	cart.POST("/items", s.addCartItem)
	cart.PATCH("/items/:id", s.updateCartItem)
	cart.DELETE("/items/:id", s.removeCartItem)

	ordersGroup := api.Group("/orders", authed)
	ordersGroup.POST("", s.placeOrder)
	ordersGroup.POST("/summary", s.orderSummary)
	ordersGroup.POST("/claim", s.requireCapability(auth.CapClaimOrders), s.claimOrder)
	ordersGroup.GET("", s.listOrders)
	ordersGroup.GET("/:id", s.getOrder)
	ordersGroup.PUT("/:id/status", s.updateOrderStatus)

	api.GET("/site-info", s.getSiteInfo)
	api.PATCH("/site-info", append(admin(auth.CapManageSiteInfo), s.updateSiteInfo)...)

	api.POST("/analytics", s.optionalAuth(), s.logEvent)
	api.GET("/analytics", append(admin(auth.CapViewAnalytics), s.listEvents)...)
	api.GET("/analytics/summary", append(admin(auth.CapViewAnalytics), s.analyticsSummary)...)

	users := api.Group("/users", admin(auth.CapManageUsers)...)
	users.GET("", s.listUsers)
	users.PUT("/:id/role", s.updateUserRole)

	return router
}

// Handler wraps the router with CORS for the configured origins.
func (s *Server) Handler(origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	}).Handler(s.Router())
}

func (s *Server) health(c *gin.Context) {
	if s.db != nil {
		if err := database.Ping(c.Request.Context(), s.db); err != nil {
			s.logger.WithError(err).Error("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, errBadRequest("invalid " + name)
	}
	return id, nil
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	return page, pageSize
}

func (s *Server) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.respondError(c, errBadRequest("invalid request body: "+err.Error()))
		return false
	}
	return true
}
