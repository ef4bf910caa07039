// Package enrollment implements the Enrollment Service (C6): issuing
// single-use tokens, validating them for the narrow onboarding API,
// and redeeming a token into an activated user, a first device, and
// per-network WireGuard address bindings.
package enrollment

import (
	"time"

	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/crypto"
	"github.com/defguard/core/internal/db"
	"github.com/defguard/core/internal/network"
)

// TokenTTL is the lifetime of a freshly issued enrollment token.
const TokenTTL = 24 * time.Hour

// GatewayNotifier is told about the WireGuard peers an enrollment
// created, so C8 can push them to the owning gateways. It is a narrow
// seam so this package does not import internal/gateway directly.
type GatewayNotifier interface {
	PeerEnrolled(networkID uint, binding *db.NetworkDevice, device *db.Device)
}

// noopNotifier is used when Service is constructed without a real
// gateway hub, e.g. in tests.
type noopNotifier struct{}

func (noopNotifier) PeerEnrolled(uint, *db.NetworkDevice, *db.Device) {}

// Service implements C6 over a Store, C7's Allocator, and a
// GatewayNotifier.
type Service struct {
	store     *db.Store
	allocator *network.Allocator
	notifier  GatewayNotifier
}

// NewService constructs a Service. notifier may be nil, in which case
// gateway events are dropped (useful for tests and for deployments
// that have not yet configured C8).
func NewService(store *db.Store, allocator *network.Allocator, notifier GatewayNotifier) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{store: store, allocator: allocator, notifier: notifier}
}

// StartEnrollment generates a single-use token for userID, issued by
// adminID, valid for TokenTTL.
func (s *Service) StartEnrollment(adminID, userID uint) (*db.EnrollmentToken, error) {
	if _, err := s.store.GetUser(userID); err != nil {
		return nil, err
	}
	raw, err := crypto.RandomToken(16) // 128 bits
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "generate enrollment token", err)
	}
	now := time.Now()
	token := &db.EnrollmentToken{
		Token:     raw,
		UserID:    userID,
		AdminID:   adminID,
		CreatedAt: now,
		ExpiresAt: now.Add(TokenTTL),
	}
	if err := s.store.Conn().Create(token).Error; err != nil {
		return nil, apierr.Wrap(apierr.IntegrityViolation, "persist enrollment token", err)
	}
	return token, nil
}

// EnrollmentSession is the transient, narrow-API view ValidateToken
// returns: enough for a client to render "set your password" without
// exposing the full user record.
type EnrollmentSession struct {
	Token     string
	Username  string
	Email     string
	ExpiresAt time.Time
}

// ValidateToken reports whether token is still redeemable and, if so,
// the minimal session a client needs to complete enrollment. The
// loaded row is still compared against token in constant time before
// use, even though it was also the lookup key.
func (s *Service) ValidateToken(token string) (*EnrollmentSession, error) {
	entry, user, err := s.lookupValid(token)
	if err != nil {
		return nil, err
	}
	return &EnrollmentSession{
		Token:     entry.Token,
		Username:  user.Username,
		Email:     user.Email,
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

// lookupValid loads the token row and its owning user and checks the
// token's UsedAt and ExpiresAt itself (db.EnrollmentToken.Valid is not
// called), translating failure into the specific
// apierr.Kind spec.md §7 names (TokenExpired vs TokenUsed) rather than
// a generic CredentialInvalid.
func (s *Service) lookupValid(token string) (*db.EnrollmentToken, *db.User, error) {
	var entry db.EnrollmentToken
	if err := s.store.Conn().Where("token = ?", token).First(&entry).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, nil, apierr.New(apierr.NotFound, "enrollment token not found")
		}
		return nil, nil, apierr.Wrap(apierr.IntegrityViolation, "load enrollment token", err)
	}
	if !crypto.ConstantTimeEqual(entry.Token, token) {
		return nil, nil, apierr.New(apierr.NotFound, "enrollment token not found")
	}
	user, err := s.store.GetUser(entry.UserID)
	if err != nil {
		return nil, nil, err
	}
	if entry.UsedAt != nil {
		return nil, nil, apierr.New(apierr.TokenUsed, "enrollment token already redeemed")
	}
	if !time.Now().Before(entry.ExpiresAt) {
		return nil, nil, apierr.New(apierr.TokenExpired, "enrollment token expired")
	}
	if !user.IsActive && user.PasswordHash != nil {
		// Already activated by a prior redemption that failed to mark
		// the token used; treat as used rather than re-running side
		// effects.
		return nil, nil, apierr.New(apierr.TokenUsed, "enrollment token already redeemed")
	}
	return &entry, user, nil
}

// RedeemResult is what a successful RedeemToken produced.
type RedeemResult struct {
	User   *db.User
	Device *db.Device
	Bound  []BoundNetwork
}

// BoundNetwork is one network a device received an address on.
type BoundNetwork struct {
	NetworkID uint
	Address   string
}

// RedeemToken performs, atomically: mark token used, set password,
// activate the user, create the first device, and allocate a
// WireGuard address on every network whose allowed_groups covers the
// user (spec.md §4.6 step 3). Address allocation runs its own nested
// transaction per network via internal/network.Allocator, which is
// safe to call from inside this outer transaction because gorm v1
// treats a Transaction call on an already-transactional *gorm.DB as a
// savepoint-free pass-through.
//
// A second call with the same token, concurrent or sequential, always
// observes UsedAt already set and returns TokenUsed without creating a
// second device (spec.md §9's "at most one redeem_token call ever
// returns success").
func (s *Service) RedeemToken(token, password, devicePubkey, deviceName string) (*RedeemResult, error) {
	var result RedeemResult

	err := s.store.Conn().Transaction(func(tx *gorm.DB) error {
		var entry db.EnrollmentToken
		if err := tx.Set("gorm:query_option", "FOR UPDATE").Where("token = ?", token).First(&entry).Error; err != nil {
			if gorm.IsRecordNotFoundError(err) {
				return apierr.New(apierr.NotFound, "enrollment token not found")
			}
			return err
		}
		if !crypto.ConstantTimeEqual(entry.Token, token) {
			return apierr.New(apierr.NotFound, "enrollment token not found")
		}
		if entry.UsedAt != nil {
			return apierr.New(apierr.TokenUsed, "enrollment token already redeemed")
		}
		if !time.Now().Before(entry.ExpiresAt) {
			return apierr.New(apierr.TokenExpired, "enrollment token expired")
		}

		var user db.User
		if err := tx.Set("gorm:query_option", "FOR UPDATE").First(&user, entry.UserID).Error; err != nil {
			return err
		}

		hash, err := crypto.HashPassword(password, crypto.DefaultArgon2Params)
		if err != nil {
			return apierr.Wrap(apierr.Internal, "hash enrollment password", err)
		}
		user.PasswordHash = &hash
		user.IsActive = true
		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		now := time.Now()
		entry.UsedAt = &now
		if err := tx.Save(&entry).Error; err != nil {
			return err
		}

		device := db.Device{
			Name:            deviceName,
			WireguardPubkey: devicePubkey,
			UserID:          &user.ID,
			DeviceType:      db.DeviceTypeUser,
			Configured:      true,
		}
		if err := tx.Create(&device).Error; err != nil {
			return err
		}

		groupNames, err := s.groupsForUserTx(tx, user.ID)
		if err != nil {
			return err
		}

		var networks []db.Network
		if err := tx.Find(&networks).Error; err != nil {
			return err
		}
		eligible := network.NetworksForUser(toPolicyNetworks(networks), groupNames)

		bound := make([]BoundNetwork, 0, len(eligible))
		for _, netw := range eligible {
			binding, err := s.allocator.AllocateForDevice(netw.ID, device.ID)
			if err != nil {
				return err
			}
			bound = append(bound, BoundNetwork{NetworkID: netw.ID, Address: binding.WireguardIPs[0]})
			s.notifier.PeerEnrolled(netw.ID, binding, &device)
		}

		result = RedeemResult{User: &user, Device: &device, Bound: bound}
		return nil
	})
	if err != nil {
		if _, ok := err.(*apierr.Error); ok {
			return nil, err
		}
		return nil, apierr.Wrap(apierr.IntegrityViolation, "redeem enrollment token", err)
	}
	return &result, nil
}

// groupsForUserTx mirrors Store.GroupsForUser but runs inside the
// caller's transaction so redemption's group lookup is consistent
// with the row locks already held.
func (s *Service) groupsForUserTx(tx *gorm.DB, userID uint) ([]string, error) {
	var groups []db.Group
	err := tx.
		Joins("JOIN user_groups ON user_groups.group_id = groups.id").
		Where("user_groups.user_id = ?", userID).
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	return names, nil
}

// toPolicyNetworks adapts db.Network rows to network.Network, the
// minimal shape network.NetworksForUser needs (kept local to that
// package to avoid an import cycle back to db).
func toPolicyNetworks(networks []db.Network) []network.Network {
	out := make([]network.Network, len(networks))
	for i, n := range networks {
		out[i] = network.Network{ID: n.ID, AllowedGroups: n.AllowedGroups}
	}
	return out
}
