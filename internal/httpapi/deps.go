// Package httpapi wires C1-C8 into the gin.Engine spec.md §6 names:
// /auth, /enrollment, /user, /network, /device, generalizing the
// teacher's routes.go/handlers.go route groups and middleware chain
// over the new component set.
package httpapi

import (
	"time"

	"github.com/markbates/goth"
	"golang.org/x/time/rate"

	"github.com/defguard/core/internal/auth"
	"github.com/defguard/core/internal/db"
	"github.com/defguard/core/internal/enrollment"
	"github.com/defguard/core/internal/gateway"
	"github.com/defguard/core/internal/network"
	"github.com/defguard/core/internal/session"
	"github.com/defguard/core/internal/webauthn"
)

// Config holds the deployment-facing knobs Router itself needs beyond
// what each component's own Config already carries.
type Config struct {
	IsDebug         bool
	AllowedHosts    []string
	CSRFKey         []byte
	StaticAssetsDir string // empty disables SPA asset serving
	AdminGroupName  string
	AuthRateLimit   rate.Limit // requests/sec per client IP against /auth
	AuthRateBurst   int
}

// DefaultConfig fills in the rate limit spec.md §2's "ambient
// resilience" note calls for without naming a number.
func DefaultConfig() Config {
	return Config{
		AdminGroupName: db.AdminGroupName,
		AuthRateLimit:  rate.Every(time.Second),
		AuthRateBurst:  5,
	}
}

// Deps bundles every component Router needs to build handlers. All
// fields are required except Gateway, which is nil in deployments that
// run gateways out-of-process against a separate control-plane
// instance sharing the same database, and OIDC, which is nil unless
// single sign-on is configured.
type Deps struct {
	Store      *db.Store
	Machine    *auth.Machine
	Sessions   *session.Manager
	WebAuthn   *webauthn.Ceremony
	Enrollment *enrollment.Service
	Allocator  *network.Allocator
	Gateway    *gateway.Hub
	// OIDC is the OpenID-Connect provider backing `/auth/oidc/*`.
	// nil disables the route group entirely (the common case for a
	// deployment that only does username/password + MFA).
	OIDC   goth.Provider
	Config Config
}
