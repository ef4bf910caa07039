package httpapi

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/secure"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/csrf"
	adapter "github.com/gwatts/gin-adapter"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"

	"github.com/defguard/core/internal/db"
)

// Router assembles the gin.Engine, generalizing the teacher's
// routes.go Router function over the new component set: the plain
// static/secure/auth/private group shape survives, the handlers
// underneath are all new.
func Router(deps *Deps) *gin.Engine {
	router := gin.Default()
	router.Use(errorHandler)
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(secure.New(secure.Config{
		BrowserXssFilter:      true,
		IENoOpen:              true,
		FrameDeny:             true,
		ContentSecurityPolicy: "default-src 'self'",
		ContentTypeNosniff:    true,
		SSLRedirect:           !deps.Config.IsDebug,
		IsDevelopment:         deps.Config.IsDebug,
		AllowedHosts:          deps.Config.AllowedHosts,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	}))

	if deps.Config.StaticAssetsDir != "" {
		frontend := router.Group("/")
		frontend.Use(static.Serve("/", static.LocalFile(deps.Config.StaticAssetsDir, false)))
	}

	if !deps.Config.IsDebug && len(deps.Config.CSRFKey) > 0 {
		csrfMiddleware := csrf.Protect(deps.Config.CSRFKey, csrf.Secure(!deps.Config.IsDebug))
		router.Use(adapter.Wrap(csrfMiddleware))
	}

	api := router.Group("/api")

	auth := api.Group("/auth")
	auth.Use(rateLimited(deps.Config))
	auth.POST("", handleLogin(deps))
	auth.POST("/mfa/totp/start", handleMFAStart(deps, db.MFAMethodTOTP))
	auth.POST("/mfa/totp/verify", handleMFAVerify(deps, db.MFAMethodTOTP))
	auth.POST("/mfa/email/start", handleMFAStart(deps, db.MFAMethodEmail))
	auth.POST("/mfa/email/verify", handleMFAVerify(deps, db.MFAMethodEmail))
	auth.POST("/mfa/webauthn/start", handleMFAStart(deps, db.MFAMethodWebAuthn))
	auth.POST("/mfa/webauthn/verify", handleWebAuthnVerify(deps))
	auth.POST("/recovery_code", handleRecoveryCode(deps))

	if deps.OIDC != nil {
		goth.UseProviders(deps.OIDC)
		gothic.Store = deps.Sessions.GothicStore()
		auth.GET("/oidc/authenticate", handleOIDCAuthenticate(deps))
		auth.GET("/oidc/callback", handleOIDCCallback(deps))
	}

	enrollment := api.Group("/enrollment")
	enrollment.GET("/:token", handleValidateEnrollmentToken(deps))
	enrollment.POST("/:token", handleRedeemEnrollmentToken(deps))

	private := api.Group("/")
	private.Use(sessionRequired(deps))
	private.POST("/auth/logout", handleLogout(deps))
	private.POST("/auth/elevate", handleElevateAdmin(deps))

	private.GET("/user/me", handleMe)
	private.POST("/user/me/webauthn/register/start", handleBeginPasskeyRegistration(deps))
	private.POST("/user/me/webauthn/register/finish", handleFinishPasskeyRegistration(deps))

	private.GET("/device", handleListMyDevices(deps))
	private.POST("/device", handleAddDevice(deps))
	private.DELETE("/device/:id", handleDeleteDevice(deps))

	admin := private.Group("/")
	admin.Use(adminRequired)
	admin.POST("/enrollment/start", handleStartEnrollment(deps))

	admin.GET("/user/:id", handleGetUser(deps))
	admin.DELETE("/user/:id", handleDeleteUser(deps))
	admin.POST("/user/:id/groups", handleAddUserToGroup(deps))
	admin.DELETE("/user/:id/groups/:group", handleRemoveUserFromGroup(deps))

	admin.POST("/network", handleCreateNetwork(deps))
	admin.GET("/network", handleListNetworks(deps))
	admin.GET("/network/:id", handleGetNetwork(deps))
	admin.DELETE("/network/:id", handleDeleteNetwork(deps))
	admin.POST("/network/import", handleImportNetworkConfig(deps))
	admin.GET("/network/:id/config", handleExportNetworkConfig(deps))

	return router
}
