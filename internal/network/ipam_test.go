package network

import (
	"net"
	"testing"

	"github.com/defguard/core/internal/db"
)

func mustParseCIDR(cidr string) net.IPNet {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return *ipnet
}

func TestAddressRangeStart(t *testing.T) {
	rng := &AddressRange{Network: mustParseCIDR("10.0.0.0/24")}
	expected := net.ParseIP("10.0.0.0")
	if !rng.Start().Equal(expected) {
		t.Errorf("expected %v, got %v", expected, rng.Start())
	}
}

func TestAddressRangeFinish(t *testing.T) {
	rng := &AddressRange{Network: mustParseCIDR("10.0.0.0/24")}
	expected := net.ParseIP("10.0.0.255")
	if !rng.Finish().Equal(expected) {
		t.Errorf("expected %v, got %v", expected, rng.Finish())
	}
}

func TestAddressRangeNextInRange(t *testing.T) {
	rng := &AddressRange{Network: mustParseCIDR("10.0.0.0/24")}
	current := mustParseCIDR("10.0.0.1/32").IP
	expected := net.ParseIP("10.0.0.2")
	next, err := rng.Next(current)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !next.Equal(expected) {
		t.Errorf("expected %v, got %v", expected, next)
	}
}

func TestAddressRangeNextRejectsOutOfSubnet(t *testing.T) {
	rng := &AddressRange{Network: mustParseCIDR("10.0.0.0/24")}
	outside := mustParseCIDR("192.168.1.1/32").IP
	_, err := rng.Next(outside)
	if err == nil {
		t.Fatalf("expected error for out-of-subnet address")
	}
	if _, ok := err.(*IPNotInSubnetError); !ok {
		t.Errorf("expected IPNotInSubnetError, got %T", err)
	}
}

func TestAddressRangeNextExhausted(t *testing.T) {
	rng := &AddressRange{Network: mustParseCIDR("10.0.0.0/24")}
	last := mustParseCIDR("10.0.0.255/32").IP
	_, err := rng.Next(last)
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if _, ok := err.(*IPsExhaustedError); !ok {
		t.Errorf("expected IPsExhaustedError, got %T", err)
	}
}

func newTestAllocator(t *testing.T) (*Allocator, *db.Store) {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := db.Migrate(store.Conn()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewAllocator(store), store
}

func TestAllocateSubnetPopulatesPool(t *testing.T) {
	allocator, store := newTestAllocator(t)
	netw := &db.Network{
		Name:              "pool-test",
		Address:           db.StringList{"10.0.2.0/30"}, // .1-.2 usable
		GatewayPrivateKey: "placeholder",
	}
	if err := store.Conn().Create(netw).Error; err != nil {
		t.Fatalf("create network: %v", err)
	}
	if err := allocator.AllocateSubnet(netw.ID, netw.Address); err != nil {
		t.Fatalf("AllocateSubnet: %v", err)
	}

	var pool []db.NetworkAddress
	if err := store.Conn().Where("network_id = ?", netw.ID).Order("address").Find(&pool).Error; err != nil {
		t.Fatalf("query pool: %v", err)
	}
	if len(pool) != 2 {
		t.Fatalf("expected 2 pooled addresses, got %d", len(pool))
	}
	if pool[0].Address != "10.0.2.1" || pool[1].Address != "10.0.2.2" {
		t.Fatalf("unexpected pooled addresses: %+v", pool)
	}
}

func TestAllocateForDeviceSkipsUsedAddresses(t *testing.T) {
	allocator, store := newTestAllocator(t)
	netw := &db.Network{
		Name:              "office",
		Address:           db.StringList{"10.0.0.0/30"}, // .0 network, .1-.2 usable, .3 broadcast
		GatewayPrivateKey: "placeholder",
	}
	if err := store.Conn().Create(netw).Error; err != nil {
		t.Fatalf("create network: %v", err)
	}
	if err := allocator.AllocateSubnet(netw.ID, netw.Address); err != nil {
		t.Fatalf("AllocateSubnet: %v", err)
	}
	d1 := &db.Device{Name: "laptop", WireguardPubkey: "pk1"}
	d2 := &db.Device{Name: "phone", WireguardPubkey: "pk2"}
	if err := store.Conn().Create(d1).Error; err != nil {
		t.Fatalf("create device 1: %v", err)
	}
	if err := store.Conn().Create(d2).Error; err != nil {
		t.Fatalf("create device 2: %v", err)
	}

	b1, err := allocator.AllocateForDevice(netw.ID, d1.ID)
	if err != nil {
		t.Fatalf("AllocateForDevice 1: %v", err)
	}
	if len(b1.WireguardIPs) != 1 || b1.WireguardIPs[0] != "10.0.0.1" {
		t.Fatalf("expected first allocation to be 10.0.0.1, got %v", b1.WireguardIPs)
	}

	b2, err := allocator.AllocateForDevice(netw.ID, d2.ID)
	if err != nil {
		t.Fatalf("AllocateForDevice 2: %v", err)
	}
	if len(b2.WireguardIPs) != 1 || b2.WireguardIPs[0] != "10.0.0.2" {
		t.Fatalf("expected second allocation to be 10.0.0.2, got %v", b2.WireguardIPs)
	}
}

func TestAllocateForDeviceExhaustion(t *testing.T) {
	allocator, store := newTestAllocator(t)
	netw := &db.Network{
		Name:              "tiny",
		Address:           db.StringList{"10.0.0.0/30"},
		GatewayPrivateKey: "placeholder",
	}
	if err := store.Conn().Create(netw).Error; err != nil {
		t.Fatalf("create network: %v", err)
	}
	if err := allocator.AllocateSubnet(netw.ID, netw.Address); err != nil {
		t.Fatalf("AllocateSubnet: %v", err)
	}

	for i := 0; i < 2; i++ {
		device := &db.Device{Name: "dev", WireguardPubkey: "pk" + string(rune('a'+i))}
		if err := store.Conn().Create(device).Error; err != nil {
			t.Fatalf("create device: %v", err)
		}
		if _, err := allocator.AllocateForDevice(netw.ID, device.ID); err != nil {
			t.Fatalf("AllocateForDevice: %v", err)
		}
	}

	device := &db.Device{Name: "overflow", WireguardPubkey: "pkz"}
	if err := store.Conn().Create(device).Error; err != nil {
		t.Fatalf("create device: %v", err)
	}
	if _, err := allocator.AllocateForDevice(netw.ID, device.ID); err == nil {
		t.Fatalf("expected allocation to fail once the /30 is exhausted")
	}
}

func TestReleaseFreesAddressForReuse(t *testing.T) {
	allocator, store := newTestAllocator(t)
	netw := &db.Network{
		Name:              "office2",
		Address:           db.StringList{"10.0.1.0/30"},
		GatewayPrivateKey: "placeholder",
	}
	if err := store.Conn().Create(netw).Error; err != nil {
		t.Fatalf("create network: %v", err)
	}
	if err := allocator.AllocateSubnet(netw.ID, netw.Address); err != nil {
		t.Fatalf("AllocateSubnet: %v", err)
	}
	device := &db.Device{Name: "laptop", WireguardPubkey: "pk1"}
	if err := store.Conn().Create(device).Error; err != nil {
		t.Fatalf("create device: %v", err)
	}
	if _, err := allocator.AllocateForDevice(netw.ID, device.ID); err != nil {
		t.Fatalf("AllocateForDevice: %v", err)
	}
	if err := allocator.Release(netw.ID, device.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, err := allocator.AllocateForDevice(netw.ID, device.ID)
	if err != nil {
		t.Fatalf("AllocateForDevice after release: %v", err)
	}
	if again.WireguardIPs[0] != "10.0.1.1" {
		t.Fatalf("expected the freed address to be reused, got %v", again.WireguardIPs)
	}
}
