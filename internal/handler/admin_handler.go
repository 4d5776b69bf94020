package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/application"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/auth"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/middleware"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/response"
)

// AdminCouponHandler handles admin HTTP requests for coupon management.
type AdminCouponHandler struct {
	service *application.CouponService
}

// NewAdminCouponHandler creates a new AdminCouponHandler.
func NewAdminCouponHandler(service *application.CouponService) *AdminCouponHandler {
	return &AdminCouponHandler{service: service}
}

// RegisterRoutes registers admin coupon routes.
func (h *AdminCouponHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/admin/coupons")
	admin.Use(authMW, adminRole)
	{
		admin.POST("", h.CreateCoupon)
		admin.GET("", h.ListCoupons)
		admin.GET("/:id", h.GetCoupon)
		admin.PUT("/:id", h.UpdateCoupon)
		admin.POST("/:id/disable", h.DisableCoupon)
		admin.GET("/:id/usage", h.GetUsage)
		admin.POST("/:id/release", h.ReleaseRedemption)
	}
}

// CreateCoupon handles POST /api/v1/admin/coupons.
func (h *AdminCouponHandler) CreateCoupon(c *gin.Context) {
	adminID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateCoupon(c.Request.Context(), adminID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListCoupons handles GET /api/v1/admin/coupons.
func (h *AdminCouponHandler) ListCoupons(c *gin.Context) {
	var q application.ListCouponsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	coupons, total, page, limit, err := h.service.ListCoupons(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, coupons, total, page, limit)
}

// GetCoupon handles GET /api/v1/admin/coupons/:id.
func (h *AdminCouponHandler) GetCoupon(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.service.GetCoupon(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// UpdateCoupon handles PUT /api/v1/admin/coupons/:id.
func (h *AdminCouponHandler) UpdateCoupon(c *gin.Context) {
	adminID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req application.CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.UpdateCoupon(c.Request.Context(), adminID, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// DisableCoupon handles POST /api/v1/admin/coupons/:id/disable.
func (h *AdminCouponHandler) DisableCoupon(c *gin.Context) {
	adminID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.service.DisableCoupon(c.Request.Context(), adminID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetUsage handles GET /api/v1/admin/coupons/:id/usage.
func (h *AdminCouponHandler) GetUsage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.service.GetUsage(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ReleaseRedemption handles POST /api/v1/admin/coupons/:id/release.
func (h *AdminCouponHandler) ReleaseRedemption(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req application.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.Release(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid coupon id")
		return uuid.Nil, false
	}
	return id, true
}
