package gateway

import (
	"context"
	"fmt"
	"net"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// LocalApplier drives a WireGuard device on the machine the control
// plane itself runs on, for single-node/dev deployments that have no
// separate gateway process. It subscribes to a Hub the same way a
// remote gateway would over gRPC, but in-process via ConnectLocal, and
// applies each event through wgctrl instead of serializing it onto a
// stream.
type LocalApplier struct {
	client     *wgctrl.Client
	deviceName string
	hub        *Hub
	networkID  uint
}

// NewLocalApplier opens a wgctrl client and binds it to deviceName and
// networkID. Call Run to start applying events; Close releases the
// client.
func NewLocalApplier(deviceName string, hub *Hub, networkID uint) (*LocalApplier, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("gateway: open wgctrl client: %w", err)
	}
	return &LocalApplier{client: client, deviceName: deviceName, hub: hub, networkID: networkID}, nil
}

// Close releases the underlying wgctrl client.
func (a *LocalApplier) Close() error {
	return a.client.Close()
}

// Run consumes events for a.networkID until ctx is canceled or the
// connection is superseded, applying each one to the local device.
func (a *LocalApplier) Run(ctx context.Context) error {
	conn := a.hub.ConnectLocal(a.networkID)
	defer a.hub.Disconnect(conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return fmt.Errorf("gateway: local connection to network %d superseded", a.networkID)
		case evt, ok := <-conn.Send():
			if !ok {
				return nil
			}
			if err := a.apply(evt); err != nil {
				return err
			}
			a.hub.Ack(conn, evt.Seq)
		}
	}
}

func (a *LocalApplier) apply(evt Event) error {
	switch evt.Type {
	case EventReconcile:
		return a.configure(evt.Snapshot, true)
	case EventPeerAdded, EventPeerUpdated:
		if evt.Peer == nil {
			return nil
		}
		return a.configure([]Peer{*evt.Peer}, false)
	case EventPeerRemoved:
		if evt.Peer == nil {
			return nil
		}
		return a.removePeer(*evt.Peer)
	default:
		return nil
	}
}

func (a *LocalApplier) configure(peers []Peer, replaceAll bool) error {
	cfgPeers := make([]wgtypes.PeerConfig, 0, len(peers))
	for _, p := range peers {
		pub, err := wgtypes.ParseKey(p.PublicKey)
		if err != nil {
			return fmt.Errorf("gateway: parse peer public key: %w", err)
		}
		allowed := make([]net.IPNet, 0, len(p.AllowedIPs))
		for _, cidr := range p.AllowedIPs {
			_, ipnet, err := net.ParseCIDR(cidr)
			if err != nil {
				return fmt.Errorf("gateway: parse peer allowed ip %q: %w", cidr, err)
			}
			allowed = append(allowed, *ipnet)
		}
		peerCfg := wgtypes.PeerConfig{
			PublicKey:         pub,
			AllowedIPs:        allowed,
			ReplaceAllowedIPs: true,
		}
		if p.PresharedKey != "" {
			psk, err := wgtypes.ParseKey(p.PresharedKey)
			if err != nil {
				return fmt.Errorf("gateway: parse preshared key: %w", err)
			}
			peerCfg.PresharedKey = &psk
		}
		cfgPeers = append(cfgPeers, peerCfg)
	}
	return a.client.ConfigureDevice(a.deviceName, wgtypes.Config{
		ReplacePeers: replaceAll,
		Peers:        cfgPeers,
	})
}

func (a *LocalApplier) removePeer(p Peer) error {
	pub, err := wgtypes.ParseKey(p.PublicKey)
	if err != nil {
		return fmt.Errorf("gateway: parse peer public key: %w", err)
	}
	return a.client.ConfigureDevice(a.deviceName, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{PublicKey: pub, Remove: true}},
	})
}
