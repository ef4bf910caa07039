package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/defguard/core/internal/apierr"
)

// handleMe implements `GET /user/me`: the calling user's own profile.
func handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": viewUser(contextUser(c))})
}

func parseUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, apierr.New(apierr.NotFound, "invalid user id"))
		return 0, false
	}
	return uint(id), true
}

// handleGetUser implements `GET /user/:id` (admin).
func handleGetUser(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUserID(c)
		if !ok {
			return
		}
		user, err := deps.Store.GetUser(id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": viewUser(user)})
	}
}

// handleDeleteUser implements `DELETE /user/:id` (admin).
func handleDeleteUser(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUserID(c)
		if !ok {
			return
		}
		if err := deps.Store.DeleteUser(id); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type addGroupRequest struct {
	Group string `json:"group" binding:"required"`
}

// handleAddUserToGroup implements `POST /user/:id/groups` (admin).
func handleAddUserToGroup(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUserID(c)
		if !ok {
			return
		}
		var req addGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.IntegrityViolation, "malformed group request"))
			return
		}
		if err := deps.Store.AddUserToGroup(id, req.Group); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}

// handleRemoveUserFromGroup implements `DELETE /user/:id/groups/:group` (admin).
func handleRemoveUserFromGroup(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUserID(c)
		if !ok {
			return
		}
		if err := deps.Store.RemoveUserFromGroup(id, c.Param("group")); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleBeginPasskeyRegistration implements `POST
// /user/me/webauthn/register/start`: WebAuthn credential registration
// runs under a normal authenticated session, not an MFA pre-auth token
// (spec.md §4.4).
func handleBeginPasskeyRegistration(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := contextUser(c)
		options, challengeID, err := deps.WebAuthn.BeginRegistration(user.ID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"options": options, "challenge_id": challengeID})
	}
}

// handleFinishPasskeyRegistration implements `POST
// /user/me/webauthn/register/finish`.
func handleFinishPasskeyRegistration(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		challengeID := c.Query("challenge_id")
		if challengeID == "" {
			fail(c, apierr.New(apierr.ChallengeUnknown, "missing challenge_id"))
			return
		}
		passkey, err := deps.WebAuthn.FinishRegistration(challengeID, c.Request)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"passkey_id": passkey.ID})
	}
}
