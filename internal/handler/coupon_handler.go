package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/application"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/auth"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/middleware"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/response"
)

// CouponHandler handles HTTP requests for evaluating and redeeming coupons.
type CouponHandler struct {
	service *application.CouponService
}

// NewCouponHandler creates a new CouponHandler.
func NewCouponHandler(service *application.CouponService) *CouponHandler {
	return &CouponHandler{service: service}
}

// RegisterRoutes registers all coupon routes.
func (h *CouponHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	coupons := r.Group("/coupons")
	coupons.Use(middleware.AuthMiddleware(jwtManager))
	{
		coupons.POST("/evaluate", h.Evaluate)
		coupons.POST("/redeem", h.Redeem)
	}
}

// Evaluate handles POST /api/v1/coupons/evaluate.
func (h *CouponHandler) Evaluate(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Evaluate(c.Request.Context(), userID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// Redeem handles POST /api/v1/coupons/redeem.
func (h *CouponHandler) Redeem(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Redeem(c.Request.Context(), userID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
