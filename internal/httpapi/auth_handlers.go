package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleLogin implements spec.md §6's `POST /auth`: 200 with either
// {user} or {mfa: {...}}, 401 on failure. It never reveals whether a
// login was rejected for an unknown user or a wrong password (C2/C3).
func handleLogin(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.CredentialInvalid, "malformed login request"))
			return
		}
		result, err := deps.Machine.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
		if err != nil {
			fail(c, err)
			return
		}
		if result.MFARequired {
			c.JSON(http.StatusOK, gin.H{
				"mfa": gin.H{
					"mfa_method": result.Method,
					"token":      result.Token,
					"expires_at": result.ExpiresAt,
				},
			})
			return
		}
		finishLogin(c, deps, result.User, true)
	}
}

// finishLogin creates a session, sets its cookie, and writes the
// {user} body spec.md §6 names for a fully authenticated /auth or
// /auth/mfa/*/verify call.
func finishLogin(c *gin.Context, deps *Deps, user *db.User, mfaVerified bool) {
	sess, err := deps.Sessions.Create(user, mfaVerified, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		fail(c, err)
		return
	}
	if err := deps.Sessions.SetCookie(c.Writer, sess); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": viewUser(user)})
}

type mfaTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type mfaCodeRequest struct {
	Token string `json:"token" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// handleMFAStart dispatches `POST /auth/mfa/{method}/start`. TOTP has
// no server-side start step (the client computes its code locally), so
// it is accepted and immediately succeeds; email sends the one-time
// code; webauthn opens an assertion challenge and returns its options.
func handleMFAStart(deps *Deps, method db.MFAMethod) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mfaTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.ChallengeUnknown, "malformed mfa start request"))
			return
		}
		switch method {
		case db.MFAMethodTOTP:
			c.JSON(http.StatusOK, gin.H{"started": true})
		case db.MFAMethodEmail:
			if err := deps.Machine.BeginEmailChallenge(c.Request.Context(), req.Token); err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"started": true})
		case db.MFAMethodWebAuthn:
			options, challengeID, err := deps.WebAuthn.BeginAuthentication(req.Token)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"options": options, "challenge_id": challengeID})
		default:
			fail(c, apierr.New(apierr.ChallengeUnknown, "unsupported mfa method"))
		}
	}
}

// handleMFAVerify dispatches `POST /auth/mfa/{totp|email}/verify`.
// WebAuthn's verify goes through handleWebAuthnVerify instead, since it
// needs the raw assertion response body, not a {token, code} pair.
func handleMFAVerify(deps *Deps, method db.MFAMethod) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mfaCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.CredentialInvalid, "malformed mfa verify request"))
			return
		}
		var user *db.User
		var err error
		switch method {
		case db.MFAMethodTOTP:
			user, err = deps.Machine.VerifyTOTP(req.Token, req.Code)
		case db.MFAMethodEmail:
			user, err = deps.Machine.VerifyEmailCode(req.Token, req.Code)
		default:
			fail(c, apierr.New(apierr.ChallengeUnknown, "unsupported mfa method"))
			return
		}
		if err != nil {
			fail(c, err)
			return
		}
		finishLogin(c, deps, user, true)
	}
}

type webAuthnVerifyRequest struct {
	Token       string `json:"token" binding:"required"`
	ChallengeID string `json:"challenge_id" binding:"required"`
}

// handleWebAuthnVerify completes `POST /auth/mfa/webauthn/verify`. The
// assertion response itself is read straight off c.Request by
// FinishAuthentication, matching go-webauthn's http.Request-based API.
func handleWebAuthnVerify(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		challengeID := c.Query("challenge_id")
		if token == "" || challengeID == "" {
			fail(c, apierr.New(apierr.ChallengeUnknown, "missing token or challenge_id"))
			return
		}
		user, err := deps.WebAuthn.FinishAuthentication(token, challengeID, c.Request)
		if err != nil {
			fail(c, err)
			return
		}
		finishLogin(c, deps, user, true)
	}
}

type recoveryCodeRequest struct {
	Token string `json:"token" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// handleRecoveryCode implements `POST /auth/recovery_code`: a recovery
// code is method-agnostic and completes login regardless of the
// account's configured mfa_method (spec.md §4.3).
func handleRecoveryCode(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recoveryCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.CredentialInvalid, "malformed recovery code request"))
			return
		}
		user, err := deps.Machine.VerifyRecoveryCode(req.Token, req.Code)
		if err != nil {
			fail(c, err)
			return
		}
		finishLogin(c, deps, user, true)
	}
}

// handleLogout implements `POST /auth/logout`.
func handleLogout(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := contextSession(c)
		if sess == nil {
			c.Status(http.StatusOK)
			return
		}
		if err := deps.Sessions.Logout(c.Writer, sess); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}

// handleElevateAdmin implements C5's elevate_admin operation: a
// session-authenticated admin-group member may promote their current
// session to admin_elevated, gating the /network and /user write
// routes.
func handleElevateAdmin(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := contextSession(c)
		user := contextUser(c)
		isAdmin, err := deps.Store.IsUserInGroup(user.ID, deps.Config.AdminGroupName)
		if err != nil {
			fail(c, err)
			return
		}
		if err := deps.Sessions.ElevateAdmin(sess, isAdmin); err != nil {
			fail(c, err)
			return
		}
		if err := deps.Sessions.SetCookie(c.Writer, sess); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"admin_elevated": true})
	}
}
