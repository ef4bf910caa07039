package network

import "testing"

func TestParseWgQuickInterfaceAndPeer(t *testing.T) {
	input := `[Interface]
PrivateKey = cHJpdmF0ZWtleQ==
Address = 10.0.0.2/24
ListenPort = 51820
DNS = 1.1.1.1, 1.0.0.1

[Peer]
PublicKey = cHVibGlja2V5
AllowedIPs = 0.0.0.0/0
Endpoint = vpn.example.com:51820
PersistentKeepalive = 25
`
	cfg, err := ParseWgQuick(input)
	if err != nil {
		t.Fatalf("ParseWgQuick: %v", err)
	}
	if cfg.Interface.PrivateKey != "cHJpdmF0ZWtleQ==" {
		t.Errorf("unexpected private key: %q", cfg.Interface.PrivateKey)
	}
	if len(cfg.Interface.Address) != 1 || cfg.Interface.Address[0] != "10.0.0.2/24" {
		t.Errorf("unexpected address: %v", cfg.Interface.Address)
	}
	if cfg.Interface.ListenPort != 51820 {
		t.Errorf("unexpected listen port: %d", cfg.Interface.ListenPort)
	}
	if len(cfg.Interface.DNS) != 2 {
		t.Errorf("expected 2 dns servers, got %v", cfg.Interface.DNS)
	}
	if len(cfg.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(cfg.Peers))
	}
	peer := cfg.Peers[0]
	if peer.PublicKey != "cHVibGlja2V5" || peer.Endpoint != "vpn.example.com:51820" || peer.PersistentKeepalive != 25 {
		t.Errorf("unexpected peer: %+v", peer)
	}
}

func TestParseWgQuickMultiplePeers(t *testing.T) {
	input := `[Interface]
PrivateKey = key

[Peer]
PublicKey = peer1
AllowedIPs = 10.0.0.1/32

[Peer]
PublicKey = peer2
AllowedIPs = 10.0.0.2/32
`
	cfg, err := ParseWgQuick(input)
	if err != nil {
		t.Fatalf("ParseWgQuick: %v", err)
	}
	if len(cfg.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(cfg.Peers))
	}
}

func TestParseWgQuickRejectsFieldOutsideSection(t *testing.T) {
	if _, err := ParseWgQuick("PrivateKey = key\n"); err == nil {
		t.Fatalf("expected a field before any section header to fail")
	}
}

func TestRenderThenParseRoundTrip(t *testing.T) {
	cfg := &Config{
		Interface: InterfaceConfig{
			PrivateKey: "serverkey",
			Address:    []string{"10.0.0.1/24"},
			ListenPort: 51820,
		},
		Peers: []PeerConfig{
			{
				PublicKey:           "peerkey",
				AllowedIPs:          []string{"10.0.0.2/32"},
				PersistentKeepalive: 25,
			},
		},
	}
	rendered, err := Render(cfg)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	parsed, err := ParseWgQuick(rendered)
	if err != nil {
		t.Fatalf("ParseWgQuick(rendered): %v\n%s", err, rendered)
	}
	if parsed.Interface.PrivateKey != cfg.Interface.PrivateKey {
		t.Errorf("private key did not round-trip")
	}
	if len(parsed.Peers) != 1 || parsed.Peers[0].PublicKey != "peerkey" {
		t.Errorf("peer did not round-trip: %+v", parsed.Peers)
	}
}
