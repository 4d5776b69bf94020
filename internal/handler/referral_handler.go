package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Kilat-Pet-Delivery/service-coupon/internal/application"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/auth"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/middleware"
	"github.com/Kilat-Pet-Delivery/service-coupon/pkg/response"
)

// ReferralHandler lets a user issue their own referral coupon.
type ReferralHandler struct {
	service *application.ReferralService
}

// NewReferralHandler creates a new ReferralHandler.
func NewReferralHandler(service *application.ReferralService) *ReferralHandler {
	return &ReferralHandler{service: service}
}

// RegisterRoutes registers the referral route.
func (h *ReferralHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	r.POST("/coupons/referral", middleware.AuthMiddleware(jwtManager), h.IssueReferral)
}

// IssueReferral handles POST /api/v1/coupons/referral. The coupon is always
// issued to the authenticated caller.
func (h *ReferralHandler) IssueReferral(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.service.IssueReferral(c.Request.Context(), userID, middleware.GetUserName(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}
