package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"idempotent-checkout/internal/service"
)

func (s *Server) createOrder(c *gin.Context) {
	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing " + IdempotencyHeader + " header"})
		return
	}

	ctx := c.Request.Context()
	if replay, ok := s.orders.Replay(ctx, key); ok {
		c.Data(replay.StatusCode, "application/json", replay.Body)
		return
	}

	var input service.CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := s.orders.CreateOrder(ctx, key, input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Order != nil {
		c.Header("Location", "/api/orders/"+url.PathEscape(result.Order.OrderNumber))
	}
	c.Data(result.StatusCode, "application/json", result.Body)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.orders.GetOrder(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.NewOrderResponse(order))
}

func (s *Server) listOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	orders, err := s.orders.ListOrders(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]service.OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, service.NewOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, out)
}

type paymentEventResponse struct {
	ID          string    `json:"id"`
	OrderNumber string    `json:"orderNumber"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	RawBody     string    `json:"rawBody"`
	Signature   string    `json:"signature"`
}

func (s *Server) listPaymentEvents(c *gin.Context) {
	orderNumber := c.Param("orderNumber")
	ctx := c.Request.Context()
	if _, err := s.orders.GetOrder(ctx, orderNumber); err != nil {
		AbortWithError(c, err)
		return
	}

	events, err := s.orders.ListPaymentEvents(ctx, orderNumber)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]paymentEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, paymentEventResponse{
			ID:          e.ID.String(),
			OrderNumber: e.OrderNumber,
			Type:        e.Type,
			Timestamp:   e.Timestamp,
			RawBody:     string(e.RawBody),
			Signature:   e.Signature,
		})
	}
	c.JSON(http.StatusOK, out)
}
