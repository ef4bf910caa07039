package main

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/markbates/goth"
	"github.com/markbates/goth/providers/openidConnect"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/term"
	"google.golang.org/grpc"

	"github.com/defguard/core/internal/auth"
	"github.com/defguard/core/internal/config"
	"github.com/defguard/core/internal/crypto"
	"github.com/defguard/core/internal/db"
	"github.com/defguard/core/internal/enrollment"
	"github.com/defguard/core/internal/gateway"
	"github.com/defguard/core/internal/httpapi"
	"github.com/defguard/core/internal/mailer"
	"github.com/defguard/core/internal/network"
	"github.com/defguard/core/internal/session"
	"github.com/defguard/core/internal/webauthn"
)

func main() {
	app := cli.App{
		Usage:       "Self-hosted WireGuard identity and access control plane",
		Description: "Manages users, MFA, devices, and WireGuard networks, and fans out configuration to gateways.",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "creates/updates database tables",
				Flags:  []cli.Flag{connectionStringFlag, dbDriverFlag},
				Action: actionMigrate,
			},
			{
				Name:  "init-admin",
				Usage: "creates the first admin user",
				Flags: []cli.Flag{
					connectionStringFlag, dbDriverFlag,
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
				},
				Action: actionInitAdmin,
			},
			{
				Name:  "serve",
				Usage: "starts the HTTP API and embedded gateway hub",
				Flags: []cli.Flag{
					connectionStringFlag, dbDriverFlag,
					&cli.StringFlag{Name: "http-listen-addr", Value: ":8080"},
					&cli.StringFlag{Name: "gateway-listen-addr", Value: ":50051"},
					&cli.StringFlag{Name: "static-assets-dir"},
					&cli.BoolFlag{Name: "debug"},
				},
				Action: actionServe,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

var connectionStringFlag = &cli.StringFlag{
	Name:     "connection-string",
	Usage:    "database connection string",
	Required: true,
}

var dbDriverFlag = &cli.StringFlag{
	Name:  "db-driver",
	Usage: "postgres, mysql, or sqlite3",
	Value: "postgres",
}

func openStore(c *cli.Context) (*db.Store, error) {
	connStr := c.String("connection-string")
	switch c.String("db-driver") {
	case "postgres":
		return db.NewPostgresStore(connStr)
	case "mysql":
		return db.NewMySQLStore(connStr)
	case "sqlite3":
		return db.NewSQLiteStore(connStr)
	default:
		return nil, fmt.Errorf("unsupported db-driver %q", c.String("db-driver"))
	}
}

func actionMigrate(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Conn().Close()

	if err := db.Migrate(store.Conn()); err != nil {
		return err
	}
	log.Println("migration complete")
	return nil
}

// actionInitAdmin creates the first admin user interactively, reading
// the password from the terminal with echo disabled rather than
// accepting it as a CLI argument where it would leak into shell
// history and /proc.
func actionInitAdmin(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Conn().Close()

	fmt.Print("Admin password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	hash, err := crypto.HashPassword(string(passwordBytes), crypto.DefaultArgon2Params)
	if err != nil {
		return err
	}

	user := &db.User{
		Username:     c.String("username"),
		Email:        c.String("email"),
		PasswordHash: &hash,
		IsActive:     true,
	}
	if err := store.CreateUser(user); err != nil {
		return err
	}
	if err := store.AddUserToGroup(user.ID, db.AdminGroupName); err != nil {
		return err
	}

	log.Printf("created admin user %q (id %d)\n", user.Username, user.ID)
	return nil
}

func actionServe(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Conn().Close()

	if err := db.Migrate(store.Conn()); err != nil {
		return err
	}

	envelope, err := crypto.NewEnvelope([]byte(cfg.Auth.SecretKey))
	if err != nil {
		return fmt.Errorf("construct mfa-secret envelope: %w", err)
	}
	pool := crypto.NewPool(4)

	sender := mailer.NewSMTPSender(mailer.Config{Host: "localhost", Port: 25, From: "noreply@" + cfg.URL})
	machine := auth.NewMachine(store, envelope, pool, sender, auth.DefaultConfig([]byte(cfg.Auth.Secret)))

	waCeremony, err := webauthn.NewCeremony(webauthn.Config{
		RPID:          cfg.URL,
		RPDisplayName: "defguard",
		RPOrigins:     []string{"https://" + cfg.URL},
	}, store, machine)
	if err != nil {
		return fmt.Errorf("construct webauthn ceremony: %w", err)
	}

	allocator := network.NewAllocator(store)

	hub := gateway.NewHub(gateway.NewStoreSecretProvider(store), 64)
	notifier := gateway.NewNotifier(hub)

	enrollmentSvc := enrollment.NewService(store, allocator, notifier)

	hashKey, blockKey, err := deriveCookieKeys([]byte(cfg.Auth.SecretKey))
	if err != nil {
		return fmt.Errorf("derive session cookie keys: %w", err)
	}
	sessionMgr := session.NewManager(store, session.Config{
		HashKey:    hashKey,
		BlockKey:   blockKey,
		SessionTTL: cfg.Auth.SessionLifetime,
		Secure:     !cfg.Cookie.Insecure,
	})

	var oidcProvider goth.Provider
	if cfg.OpenID.IssuerURL != "" {
		oidcProvider, err = openidConnect.New(
			cfg.OpenID.ClientID, cfg.OpenID.ClientSecret, cfg.OpenID.CallbackURL,
			cfg.OpenID.IssuerURL,
		)
		if err != nil {
			return fmt.Errorf("construct oidc provider: %w", err)
		}
	}

	deps := &httpapi.Deps{
		Store:      store,
		Machine:    machine,
		Sessions:   sessionMgr,
		WebAuthn:   waCeremony,
		Enrollment: enrollmentSvc,
		Allocator:  allocator,
		Gateway:    hub,
		OIDC:       oidcProvider,
		Config: httpapi.Config{
			IsDebug:         c.Bool("debug"),
			StaticAssetsDir: c.String("static-assets-dir"),
			AdminGroupName:  db.AdminGroupName,
			AuthRateLimit:   httpapi.DefaultConfig().AuthRateLimit,
			AuthRateBurst:   httpapi.DefaultConfig().AuthRateBurst,
		},
	}

	go func() {
		if err := serveGateway(c.String("gateway-listen-addr"), hub, gateway.NewStoreThresholdProvider(store)); err != nil {
			log.Printf("gateway server stopped: %v\n", err)
		}
	}()

	router := httpapi.Router(deps)
	log.Printf("listening on %s\n", c.String("http-listen-addr"))
	return router.Run(c.String("http-listen-addr"))
}

// deriveCookieKeys stretches the single DEFGUARD_SECRET_KEY into the
// two independent 32-byte keys securecookie's AES-CTR/HMAC codec
// requires, the same HKDF-from-one-secret approach internal/crypto's
// Envelope uses for the MFA seed column key.
func deriveCookieKeys(secret []byte) (hashKey, blockKey []byte, err error) {
	r := hkdf.New(sha256.New, secret, nil, []byte("defguard-session-cookie-keys"))
	hashKey = make([]byte, 32)
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(r, hashKey); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(r, blockKey); err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}

func serveGateway(listenAddr string, hub *gateway.Hub, thresholds gateway.ThresholdProvider) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	gs := grpc.NewServer()
	gateway.NewServer(hub, thresholds).Register(gs)
	log.Printf("gateway server listening on %s\n", listenAddr)
	return gs.Serve(lis)
}
