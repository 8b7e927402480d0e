package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OrdersPlaced is labelled by outcome: success, replayed, validation,
	// empty_cart, insufficient_stock or error.
	OrdersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Order placement attempts by result",
		},
		[]string{"result"},
	)

	OrderPlacementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_placement_duration_seconds",
			Help:    "Time spent placing an order, including the transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	OrderStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Applied order status transitions",
		},
		[]string{"from", "to"},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Domain events that could not be published",
		},
		[]string{"routing_key"},
	)

	// CircuitBreakerState is 0 closed, 1 open, 2 half-open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	ProductStock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "product_stock_level",
			Help: "Last observed stock level per product after an inventory change or checkout",
		},
		[]string{"product_id"},
	)
)

func ObserveStock(productID int64, stock int) {
	ProductStock.WithLabelValues(strconv.FormatInt(productID, 10)).Set(float64(stock))
}

// PrometheusMiddleware records request count and latency per route
// template. Unmatched routes are grouped under "unmatched".
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		RequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			path,
		).Observe(time.Since(start).Seconds())
	}
}
