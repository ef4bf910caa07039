// Package network implements the WireGuard Network Model (C7):
// networks, address pools, device-to-IP assignment, and the
// allowed-groups policy.
package network

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/jinzhu/gorm"
	gormbulk "github.com/t-tiger/gorm-bulk-insert"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
)

// IPNotInSubnetError mirrors the teacher's error of the same name in
// ipaddress.go.
type IPNotInSubnetError struct {
	Network net.IPNet
	IP      net.IP
}

func (e *IPNotInSubnetError) Error() string {
	return fmt.Sprintf("%v is not in subnet %v", e.IP, e.Network)
}

// IPsExhaustedError mirrors the teacher's error of the same name.
type IPsExhaustedError struct {
	Network net.IPNet
}

func (e *IPsExhaustedError) Error() string {
	return fmt.Sprintf("%v is out of IP addresses", e.Network)
}

// AddressRange is the teacher's ipaddress.go AddressRange kept nearly
// verbatim: it already has exactly the invariants spec.md §4.7 needs
// (smallest unassigned address, subnet-bounded, exhaustion error).
type AddressRange struct {
	Network net.IPNet
}

// Start returns the network's own address (not assignable to a peer).
func (a *AddressRange) Start() net.IP {
	return a.Network.IP
}

// Finish returns the subnet's broadcast address (not assignable).
func (a *AddressRange) Finish() net.IP {
	mask := binary.BigEndian.Uint32(ipv4(net.IP(a.Network.Mask)))
	start := binary.BigEndian.Uint32(ipv4(a.Start()))
	finish := (start & mask) | (mask ^ 0xffffffff)
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, finish)
	return ip
}

// Next returns the address immediately after current. Callers must
// serialize concurrent allocation against the same network (the Store
// methods in this package do so with a row lock).
func (a *AddressRange) Next(current net.IP) (net.IP, error) {
	if !a.Network.Contains(current) {
		return nil, &IPNotInSubnetError{Network: a.Network, IP: current}
	}
	if current.Equal(a.Finish()) {
		return nil, &IPsExhaustedError{Network: a.Network}
	}
	ip := make(net.IP, 4)
	next := binary.BigEndian.Uint32(ipv4(current)) + 1
	binary.BigEndian.PutUint32(ip, next)
	return ip, nil
}

func ipv4(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// Allocator assigns addresses out of a Network's pool under a DB row
// lock, extending the teacher's pure in-memory AddressRange iterator
// (which had no persistence or locking at all) with the atomic,
// crash-safe allocation spec.md §3's Network-Device Binding invariant
// requires.
type Allocator struct {
	store *db.Store
}

// NewAllocator constructs an Allocator over store.
func NewAllocator(store *db.Store) *Allocator {
	return &Allocator{store: store}
}

// AllocateSubnet precomputes every usable host address across cidrs
// (every address in range except each CIDR's own network and
// broadcast address) and bulk-inserts them into the network's address
// pool with a single batched statement, the same gormbulk.BulkInsert
// call the teacher's postgres.go AllocateSubnet used to stock its
// ip_addresses table. Call it once, right after a network's CIDRs are
// set (on create or wg-quick import); AllocateForDevice then just
// consumes rows out of the pool instead of walking the CIDR's address
// range on every allocation.
func (a *Allocator) AllocateSubnet(networkID uint, cidrs []string) error {
	var rows []interface{}
	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		rng := &AddressRange{Network: *ipnet}
		current := rng.Start()
		for {
			next, err := rng.Next(current)
			if err != nil || next.Equal(rng.Finish()) {
				break // exhausted this CIDR; its broadcast address is not pooled
			}
			current = next
			rows = append(rows, db.NetworkAddress{NetworkID: networkID, Address: current.String()})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := gormbulk.BulkInsert(a.store.Conn(), rows, 3000); err != nil {
		return apierr.Wrap(apierr.IntegrityViolation, "bulk-insert network address pool", err)
	}
	return nil
}

// AllocateForDevice locks networkID's row, computes the smallest
// unassigned address across every CIDR in the network's pool, and
// creates the NetworkDevice binding in the same transaction. It
// returns apierr.NoAddressAvailable once every CIDR is exhausted.
func (a *Allocator) AllocateForDevice(networkID, deviceID uint) (*db.NetworkDevice, error) {
	var binding db.NetworkDevice
	err := a.store.Conn().Transaction(func(tx *gorm.DB) error {
		var netw db.Network
		if err := tx.Set("gorm:query_option", "FOR UPDATE").First(&netw, networkID).Error; err != nil {
			return err
		}

		address, err := nextFreeAddress(tx, &netw)
		if err != nil {
			return err
		}

		binding = db.NetworkDevice{
			NetworkID:    networkID,
			DeviceID:     deviceID,
			WireguardIPs: db.StringList{address},
		}
		return tx.Create(&binding).Error
	})
	if err != nil {
		if _, ok := err.(*apierr.Error); ok {
			return nil, err
		}
		return nil, apierr.Wrap(apierr.IntegrityViolation, "allocate network address", err)
	}
	return &binding, nil
}

// nextFreeAddress walks netw's precomputed address pool, in order, for
// the smallest address not already bound to some device on this
// network. The pool is populated by AllocateSubnet; a network with an
// empty pool (CIDRs changed after creation without re-running it) has
// no addresses to hand out.
func nextFreeAddress(tx *gorm.DB, netw *db.Network) (string, error) {
	used := make(map[string]bool)
	var bindings []db.NetworkDevice
	if err := tx.Where("network_id = ?", netw.ID).Find(&bindings).Error; err != nil {
		return "", err
	}
	for _, b := range bindings {
		for _, ip := range b.WireguardIPs {
			used[ip] = true
		}
	}

	var pool []db.NetworkAddress
	if err := tx.Where("network_id = ?", netw.ID).Order("id").Find(&pool).Error; err != nil {
		return "", err
	}
	for _, addr := range pool {
		if !used[addr.Address] {
			return addr.Address, nil
		}
	}
	return "", apierr.New(apierr.NoAddressAvailable, "network has no unassigned addresses left")
}

// Release removes deviceID's binding to networkID, freeing its
// address for reuse.
func (a *Allocator) Release(networkID, deviceID uint) error {
	err := a.store.Conn().Where("network_id = ? AND device_id = ?", networkID, deviceID).
		Delete(&db.NetworkDevice{}).Error
	if err != nil {
		return apierr.Wrap(apierr.IntegrityViolation, "release network address", err)
	}
	return nil
}
