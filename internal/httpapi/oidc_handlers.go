package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"

	"github.com/defguard/core/internal/apierr"
)

// handleOIDCAuthenticate implements `GET /auth/oidc/authenticate`,
// generalizing the teacher's authenticateHandler: it completes the
// flow if the provider already redirected back with a session,
// otherwise starts one.
func handleOIDCAuthenticate(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		gothUser, err := gothic.CompleteUserAuth(c.Writer, c.Request)
		if err != nil {
			gothic.BeginAuthHandler(c.Writer, c.Request)
			return
		}
		finishOIDCLogin(c, deps, gothUser)
	}
}

// handleOIDCCallback implements `GET /auth/oidc/callback`, the
// provider's redirect target, generalizing the teacher's
// oauthCallbackHandler.
func handleOIDCCallback(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		gothUser, err := gothic.CompleteUserAuth(c.Writer, c.Request)
		if err != nil {
			fail(c, apierr.Wrap(apierr.CredentialInvalid, "oidc callback failed", err))
			return
		}
		finishOIDCLogin(c, deps, gothUser)
	}
}

// finishOIDCLogin resolves the OpenID-Connect subject to a local user,
// creating one on first sign-in, and starts a session through the same
// finishLogin a password login uses, with mfa_verified set: the
// account's own MFA method is not asked for on this path. Admin
// elevation then follows the same rules as for any other session.
func finishOIDCLogin(c *gin.Context, deps *Deps, gothUser goth.User) {
	user, err := deps.Store.FindOrCreateByOpenIDSub(gothUser.UserID, gothUser.Email, gothUser.NickName)
	if err != nil {
		fail(c, err)
		return
	}
	finishLogin(c, deps, user, true)
}
