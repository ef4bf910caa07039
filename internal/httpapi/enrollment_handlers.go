package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/defguard/core/internal/apierr"
)

type startEnrollmentRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// handleStartEnrollment implements `POST /enrollment/start` (admin
// only): issues a single-use token for an existing user.
func handleStartEnrollment(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startEnrollmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.IntegrityViolation, "malformed enrollment start request"))
			return
		}
		admin := contextUser(c)
		token, err := deps.Enrollment.StartEnrollment(admin.ID, req.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token.Token, "expires_at": token.ExpiresAt})
	}
}

// handleValidateEnrollmentToken implements `GET /enrollment/:token`:
// the public, unauthenticated check a client runs before presenting
// the "set your password" form.
func handleValidateEnrollmentToken(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := deps.Enrollment.ValidateToken(c.Param("token"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"username":   session.Username,
			"email":      session.Email,
			"expires_at": session.ExpiresAt,
		})
	}
}

type redeemEnrollmentRequest struct {
	Password   string `json:"password" binding:"required"`
	PublicKey  string `json:"public_key" binding:"required"`
	DeviceName string `json:"device_name" binding:"required"`
}

// handleRedeemEnrollmentToken implements `POST /enrollment/:token`:
// atomically activates the user, creates their first device, and
// binds it to every network their groups allow (spec.md §4.6/§8
// scenario 3).
func handleRedeemEnrollmentToken(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req redeemEnrollmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.IntegrityViolation, "malformed enrollment redeem request"))
			return
		}
		result, err := deps.Enrollment.RedeemToken(c.Param("token"), req.Password, req.PublicKey, req.DeviceName)
		if err != nil {
			fail(c, err)
			return
		}
		bound := make([]gin.H, 0, len(result.Bound))
		for _, b := range result.Bound {
			bound = append(bound, gin.H{"network_id": b.NetworkID, "address": b.Address})
		}
		c.JSON(http.StatusOK, gin.H{
			"user":   viewUser(result.User),
			"device": viewDevice(result.Device),
			"bound":  bound,
		})
	}
}
