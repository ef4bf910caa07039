package db

import (
	"time"

	"github.com/jinzhu/gorm"
)

// MFAMethod names the second factor a user authenticates with.
type MFAMethod string

const (
	MFAMethodNone     MFAMethod = "none"
	MFAMethodTOTP     MFAMethod = "totp"
	MFAMethodWebAuthn MFAMethod = "webauthn"
	MFAMethodEmail    MFAMethod = "email"
	// MFAMethodWeb3 is deprecated: accepted on read, rejected on write.
	// See SPEC_FULL.md §9, Open Question 2.
	MFAMethodWeb3 MFAMethod = "web3"
)

// ValidMFAMethodForWrite reports whether method may be persisted by a
// write path. web3 is readable but never writable.
func ValidMFAMethodForWrite(m MFAMethod) bool {
	switch m {
	case MFAMethodNone, MFAMethodTOTP, MFAMethodWebAuthn, MFAMethodEmail:
		return true
	default:
		return false
	}
}

// DeviceType distinguishes a user's client endpoint from a gateway peer.
type DeviceType string

const (
	DeviceTypeUser    DeviceType = "user"
	DeviceTypeNetwork DeviceType = "network"
)

// AuthenticationKeyType names the kind of key in an AuthenticationKey.
type AuthenticationKeyType string

const (
	AuthenticationKeySSH AuthenticationKeyType = "ssh"
	AuthenticationKeyGPG AuthenticationKeyType = "gpg"
)

// User is a persisted identity. Either PasswordHash or FromLDAP (or
// OpenIDSub) establishes how the user authenticates the first factor.
type User struct {
	ID                 uint `gorm:"primary_key"`
	Username            string `gorm:"unique_index;size:32;not null"`
	Email               string `gorm:"unique_index;not null"`
	PasswordHash        *string
	FirstName           string
	LastName            string
	Phone               string
	IsActive            bool `gorm:"not null;default:false"`
	MFAEnabled          bool `gorm:"not null;default:false"`
	MFAMethod           MFAMethod `gorm:"type:varchar(16);not null;default:'none'"`
	TOTPEnabled         bool `gorm:"not null;default:false"`
	TOTPSecret          []byte // envelope-encrypted, see internal/crypto.Envelope
	EmailMFAEnabled     bool   `gorm:"not null;default:false"`
	EmailMFASecret      []byte // envelope-encrypted
	RecoveryCodes       RecoveryCodes `gorm:"type:text"`
	FromLDAP            bool          `gorm:"not null;default:false"`
	LDAPPassRandomized  bool          `gorm:"not null;default:false"`
	OpenIDSub           *string       `gorm:"index"`
	FailedLoginCount    int           `gorm:"not null;default:0"`
	FailedLoginWindowAt time.Time
	LastTOTPStep        uint64 `gorm:"not null;default:0"` // replay guard, spec.md §4.3
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TableName pins the table name regardless of gorm's pluralization rules.
func (User) TableName() string { return "users" }

// HasMFAMethodEnabled reports whether the given method currently has a
// live credential backing it, independent of MFAEnabled/MFAMethod.
func (u *User) HasMFAMethodEnabled(m MFAMethod, passkeyCount int) bool {
	switch m {
	case MFAMethodTOTP:
		return u.TOTPEnabled
	case MFAMethodEmail:
		return u.EmailMFAEnabled
	case MFAMethodWebAuthn:
		return passkeyCount > 0
	default:
		return false
	}
}

// Passkey is a WebAuthn credential bound to a user.
type Passkey struct {
	ID           uint `gorm:"primary_key"`
	UserID       uint `gorm:"index;not null"`
	CredentialID []byte `gorm:"unique_index;not null"`
	PublicKey    []byte `gorm:"not null"`
	Counter      uint32 `gorm:"not null;default:0"`
	Transports   string // comma-joined protocol.AuthenticatorTransport values
	AAGUID       []byte
	Flagged      bool `gorm:"not null;default:false"` // set on CounterRegression
	CreatedAt    time.Time
}

func (Passkey) TableName() string { return "webauthn_passkeys" }

// AuthenticationKey is an SSH or GPG key bound to a user, optionally
// tied to a physical YubiKey slot.
type AuthenticationKey struct {
	ID        uint `gorm:"primary_key"`
	UserID    uint                  `gorm:"index;not null"`
	Name      string
	KeyType   AuthenticationKeyType `gorm:"type:varchar(8);not null"`
	Key       string                `gorm:"type:text;not null"`
	YubikeyID *int64
	CreatedAt time.Time
}

func (AuthenticationKey) TableName() string { return "authentication_keys" }

// Network is a WireGuard network managed by this control plane.
type Network struct {
	ID                       uint `gorm:"primary_key"`
	Name                     string `gorm:"unique_index;not null"`
	Address                  StringList `gorm:"type:text"` // CIDR list, e.g. ["10.0.0.1/24"]
	Port                     int        `gorm:"not null"`
	Endpoint                 string     `gorm:"not null"`
	AllowedIPs               StringList `gorm:"type:text"`
	DNS                      StringList `gorm:"type:text"`
	AllowedGroups            StringList `gorm:"type:text"` // empty = all active users
	MFAEnabled               bool       `gorm:"not null;default:false"`
	KeepaliveInterval        int        `gorm:"not null;default:25"`
	PeerDisconnectThreshold  int        `gorm:"not null;default:300"` // seconds, >= 120
	ACLEnabled               bool       `gorm:"not null;default:false"`
	ACLDefaultAllow          bool       `gorm:"not null;default:true"`
	GatewayPrivateKey        string     `gorm:"not null"` // base64 wg private key
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (Network) TableName() string { return "networks" }

// Device is either a user's client endpoint or a gateway peer.
type Device struct {
	ID              uint `gorm:"primary_key"`
	Name            string
	WireguardPubkey string     `gorm:"index;not null"`
	UserID          *uint      `gorm:"index"`
	DeviceType      DeviceType `gorm:"type:varchar(8);not null;default:'user'"`
	Configured      bool       `gorm:"not null;default:false"`
	CreatedAt       time.Time
}

func (Device) TableName() string { return "devices" }

// NetworkDevice binds a Device into a Network with its assigned
// WireGuard addresses. (network_id, device_id) is unique, and each
// address is unique within a network.
type NetworkDevice struct {
	ID            uint `gorm:"primary_key"`
	NetworkID     uint       `gorm:"unique_index:idx_network_device;not null"`
	DeviceID      uint       `gorm:"unique_index:idx_network_device;not null"`
	WireguardIPs  StringList `gorm:"type:text"`
	PresharedKey  string     // rotated per session when Network.MFAEnabled
	CreatedAt     time.Time
}

func (NetworkDevice) TableName() string { return "network_devices" }

// NetworkAddress is one usable host address in a network's address
// pool, precomputed and bulk-inserted by network.Allocator.AllocateSubnet
// when the network's CIDRs are set. Allocation consumes rows from this
// table instead of recomputing the CIDR's address range on every call.
type NetworkAddress struct {
	ID        uint   `gorm:"primary_key"`
	NetworkID uint   `gorm:"unique_index:idx_network_address;not null"`
	Address   string `gorm:"unique_index:idx_network_address;not null"`
}

func (NetworkAddress) TableName() string { return "network_addresses" }

// EnrollmentToken is a single-use secret granting access to the
// onboarding API for exactly one user.
type EnrollmentToken struct {
	Token     string `gorm:"primary_key;size:32"` // 128-bit random, URL-safe base64
	UserID    uint   `gorm:"index;not null"`
	AdminID   uint   `gorm:"not null"`
	CreatedAt time.Time
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time
}

func (EnrollmentToken) TableName() string { return "enrollment_tokens" }

// Valid reports whether the token can still be redeemed, given the
// owning user's current active flag.
func (t *EnrollmentToken) Valid(now time.Time, userActive bool) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt) && userActive
}

// Session is an authenticated (or MFA-pending) login session.
type Session struct {
	ID                string `gorm:"primary_key;size:36"` // uuid
	UserID             uint `gorm:"index;not null"`
	CreatedAt          time.Time
	ExpiresAt          time.Time `gorm:"not null"`
	MFAVerified        bool      `gorm:"not null;default:false"`
	AdminElevated      bool      `gorm:"not null;default:false"`
	IP                 string
	DeviceFingerprint  string
}

func (Session) TableName() string { return "sessions" }

// RevokedSession is an entry in the session revocation list. Rows with
// ExpiresAt in the past are logically dead and may be garbage
// collected; a lookup always filters by ExpiresAt too so GC is not
// load-bearing for correctness.
type RevokedSession struct {
	SessionID string `gorm:"primary_key;size:36"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (RevokedSession) TableName() string { return "revoked_sessions" }

// PreAuthSession is the short-lived, server-persisted record backing
// the "password verified, MFA pending" state (spec.md §9's "coroutine
// control flow" design note: an explicit row, not an in-memory
// continuation).
type PreAuthSession struct {
	Nonce          string `gorm:"primary_key;size:32"`
	UserID         uint `gorm:"index;not null"`
	Method         MFAMethod `gorm:"type:varchar(16);not null"`
	IssuedAt       time.Time
	ExpiresAt      time.Time `gorm:"not null"`
	InFlight       bool      `gorm:"not null;default:false"` // a method challenge is currently open
	FailureCount   int       `gorm:"not null;default:0"`
	Failed         bool      `gorm:"not null;default:false"`
	ClientIP       string
}

func (PreAuthSession) TableName() string { return "pre_auth_sessions" }

// WebauthnChallenge persists the server-side state of one WebAuthn
// ceremony message exchange (begin -> challenge -> response).
type WebauthnChallenge struct {
	ID          string `gorm:"primary_key;size:32"`
	UserID      uint `gorm:"index;not null"`
	Purpose     string // "register" or "authenticate"
	SessionData []byte `gorm:"type:bytea;not null"` // json-encoded webauthn.SessionData
	ExpiresAt   time.Time `gorm:"not null"`
	Consumed    bool      `gorm:"not null;default:false"`
}

func (WebauthnChallenge) TableName() string { return "webauthn_challenges" }

// EmailMFAChallenge holds the hashed one-time code for the email MFA
// method. The plaintext code is never stored.
type EmailMFAChallenge struct {
	ID        string `gorm:"primary_key;size:32"` // == PreAuthSession.Nonce
	UserID    uint `gorm:"index;not null"`
	CodeHash  []byte `gorm:"not null"`
	Attempts  int    `gorm:"not null;default:0"`
	ExpiresAt time.Time `gorm:"not null"`
	Consumed  bool      `gorm:"not null;default:false"`
}

func (EmailMFAChallenge) TableName() string { return "email_mfa_challenges" }

// Group is a named collection of users. Group.Name is what
// Network.AllowedGroups lists, and what AdminGroupName compares against
// for the elevate_admin operation.
type Group struct {
	ID        uint `gorm:"primary_key"`
	Name      string `gorm:"unique_index;not null"`
	CreatedAt time.Time
}

func (Group) TableName() string { return "groups" }

// AdminGroupName is the single built-in group whose membership grants
// elevate_admin. It is seeded by Migrate if missing.
const AdminGroupName = "admin"

// UserGroup is the (user, group) membership join row.
type UserGroup struct {
	ID      uint `gorm:"primary_key"`
	UserID  uint `gorm:"unique_index:idx_user_group;not null"`
	GroupID uint `gorm:"unique_index:idx_user_group;not null"`
}

func (UserGroup) TableName() string { return "user_groups" }

// Migrate runs AutoMigrate for every model the store owns.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&User{},
		&Passkey{},
		&AuthenticationKey{},
		&Network{},
		&Device{},
		&NetworkDevice{},
		&NetworkAddress{},
		&EnrollmentToken{},
		&Session{},
		&RevokedSession{},
		&PreAuthSession{},
		&WebauthnChallenge{},
		&EmailMFAChallenge{},
		&Group{},
		&UserGroup{},
	).Error; err != nil {
		return err
	}
	return conn.FirstOrCreate(&Group{}, Group{Name: AdminGroupName}).Error
}
