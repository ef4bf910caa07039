package gateway

import (
	"time"

	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/db"
)

// Notifier adapts a Hub to enrollment.GatewayNotifier, translating a
// freshly bound NetworkDevice into a PeerAdded event. It is the only
// file in this package that imports internal/db, so the rest of the
// hub stays testable without a store.
type Notifier struct {
	hub *Hub
}

// NewNotifier constructs a Notifier over hub.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// PeerEnrolled implements enrollment.GatewayNotifier.
func (n *Notifier) PeerEnrolled(networkID uint, binding *db.NetworkDevice, device *db.Device) {
	n.hub.AddPeer(networkID, Peer{
		DeviceID:     device.ID,
		PublicKey:    device.WireguardPubkey,
		PresharedKey: binding.PresharedKey,
		AllowedIPs:   binding.WireguardIPs,
	})
}

// StoreSecretProvider implements SecretProvider against a db.Store,
// using Network.GatewayPrivateKey as the shared secret a gateway
// presents on connect (spec.md §3 lists it as the Network entity's
// "gateway-side private key", which is exactly the secret spec.md
// §4.8 calls for).
type StoreSecretProvider struct {
	store *db.Store
}

// NewStoreSecretProvider constructs a StoreSecretProvider over store.
func NewStoreSecretProvider(store *db.Store) *StoreSecretProvider {
	return &StoreSecretProvider{store: store}
}

// NetworkSecret implements SecretProvider.
func (p *StoreSecretProvider) NetworkSecret(networkID uint) (string, bool, error) {
	var netw db.Network
	err := p.store.Conn().First(&netw, networkID).Error
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return netw.GatewayPrivateKey, true, nil
}

// StoreThresholdProvider implements ThresholdProvider against a
// db.Store, reading Network.PeerDisconnectThreshold.
type StoreThresholdProvider struct {
	store *db.Store
}

// NewStoreThresholdProvider constructs a StoreThresholdProvider.
func NewStoreThresholdProvider(store *db.Store) *StoreThresholdProvider {
	return &StoreThresholdProvider{store: store}
}

// NetworkDisconnectThreshold implements ThresholdProvider.
func (p *StoreThresholdProvider) NetworkDisconnectThreshold(networkID uint) (time.Duration, error) {
	var netw db.Network
	if err := p.store.Conn().First(&netw, networkID).Error; err != nil {
		return 0, err
	}
	return time.Duration(netw.PeerDisconnectThreshold) * time.Second, nil
}
