package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
	"github.com/defguard/core/internal/session"
)

const (
	ctxSession = "session"
	ctxUser    = "user"
)

// errorHandler maps any apierr.Error left on the gin context by a
// handler to the status/body pair spec.md §7's table names,
// generalizing the teacher's plain AbortWithStatus calls into the full
// error-kind table.
func errorHandler(c *gin.Context) {
	c.Next()
	if len(c.Errors) == 0 {
		return
	}
	err := c.Errors.Last().Err
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	if apiErr.Kind == apierr.MfaRequired {
		c.JSON(http.StatusOK, gin.H{"error": string(apiErr.Kind), "message": apiErr.Message})
		return
	}
	c.JSON(apierr.HTTPStatus(apiErr.Kind), gin.H{"error": string(apiErr.Kind), "message": apiErr.Message})
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// sessionRequired reads the session cookie, verifies it against deps'
// Sessions manager, and stores the resolved db.Session/db.User on the
// gin context for downstream handlers, mirroring the teacher's
// AuthenticationRequiredMiddleware in middleware.go but backed by
// internal/session instead of a gorilla/sessions map lookup.
func sessionRequired(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(session.CookieName)
		if err != nil {
			fail(c, apierr.New(apierr.CredentialInvalid, "no session cookie"))
			return
		}
		sess, err := deps.Sessions.Verify(cookie)
		if err != nil {
			fail(c, err)
			return
		}
		if !sess.MFAVerified {
			fail(c, apierr.New(apierr.CredentialInvalid, "session has not completed mfa"))
			return
		}
		user, err := deps.Store.GetUser(sess.UserID)
		if err != nil {
			fail(c, err)
			return
		}
		c.Set(ctxSession, sess)
		c.Set(ctxUser, user)
		c.Next()
	}
}

// adminRequired gates a route on the session's admin_elevated flag,
// which session.Manager.ElevateAdmin already ties to admin-group
// membership and a completed MFA step.
func adminRequired(c *gin.Context) {
	sess := contextSession(c)
	if sess == nil || !sess.AdminElevated {
		fail(c, apierr.New(apierr.PolicyDenied, "admin elevation required"))
		return
	}
	c.Next()
}

func contextSession(c *gin.Context) *db.Session {
	v, ok := c.Get(ctxSession)
	if !ok {
		return nil
	}
	return v.(*db.Session)
}

func contextUser(c *gin.Context) *db.User {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil
	}
	return v.(*db.User)
}

// clientLimiter hands out one rate.Limiter per client IP, following
// the per-key limiter map pattern in jeranaias-rigrun's RBACManager
// (getUserLimiter): double-checked locking around a map, a fresh
// limiter created under the write lock only on a genuine miss.
type clientLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{limiters: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

func (c *clientLimiter) get(key string) *rate.Limiter {
	c.mu.RLock()
	l, ok := c.limiters[key]
	c.mu.RUnlock()
	if ok {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok = c.limiters[key]; ok {
		return l
	}
	l = rate.NewLimiter(c.limit, c.burst)
	c.limiters[key] = l
	return l
}

// rateLimited rejects requests once a client IP exceeds cfg's
// AuthRateLimit/AuthRateBurst, the "/auth endpoint rate limiting"
// ambient resilience item SPEC_FULL.md's domain stack table names.
func rateLimited(cfg Config) gin.HandlerFunc {
	cl := newClientLimiter(cfg.AuthRateLimit, cfg.AuthRateBurst)
	return func(c *gin.Context) {
		if !cl.get(c.ClientIP()).Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
