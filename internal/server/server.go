package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"idempotent-checkout/internal/database"
	"idempotent-checkout/internal/logger"
	"idempotent-checkout/internal/service"
)

const IdempotencyHeader = "Idempotency-Key"

type Server struct {
	orders          service.OrderService
	webhooks        service.WebhookService
	db              database.Service
	signatureHeader string
	log             *zap.Logger
}

type Params struct {
	Orders          service.OrderService
	Webhooks        service.WebhookService
	DB              database.Service
	SignatureHeader string
	CORSOrigins     []string
	MetricsHandler  http.Handler
	Log             *zap.Logger
}

// NewEngine wires the HTTP surface onto a gin engine.
func NewEngine(p Params) *gin.Engine {
	s := &Server{
		orders:          p.Orders,
		webhooks:        p.Webhooks,
		db:              p.DB,
		signatureHeader: p.SignatureHeader,
		log:             p.Log.Named("http"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(s.log))
	if len(p.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  p.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", IdempotencyHeader, logger.RequestIDHeader},
			ExposeHeaders: []string{"Location", logger.RequestIDHeader},
		}))
	}

	r.GET("/health", s.health)
	if p.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(p.MetricsHandler))
	}

	api := r.Group("/api")
	api.POST("/orders", s.createOrder)
	api.GET("/orders", s.listOrders)
	api.GET("/orders/:orderNumber", s.getOrder)
	api.GET("/orders/:orderNumber/events", s.listPaymentEvents)
	api.POST("/webhooks/payments", s.receivePaymentWebhook)

	return r
}

func (s *Server) health(c *gin.Context) {
	stats := s.db.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
