package db

import "github.com/jinzhu/gorm"

// CreateNetwork persists a new WireGuard network.
func (s *Store) CreateNetwork(n *Network) error {
	return wrapPackageError(s.conn.Create(n).Error)
}

// GetNetwork loads a network by id.
func (s *Store) GetNetwork(id uint) (*Network, error) {
	var n Network
	if err := s.conn.First(&n, id).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return &n, nil
}

// ListNetworks loads every configured network.
func (s *Store) ListNetworks() ([]Network, error) {
	var out []Network
	if err := s.conn.Order("id").Find(&out).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return out, nil
}

// UpdateNetwork saves the full row. Callers are expected to have
// loaded it first.
func (s *Store) UpdateNetwork(n *Network) error {
	return wrapPackageError(s.conn.Save(n).Error)
}

// DeleteNetwork removes a network and its device bindings.
func (s *Store) DeleteNetwork(id uint) error {
	return wrapPackageError(s.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("network_id = ?", id).Delete(&NetworkDevice{}).Error; err != nil {
			return err
		}
		if err := tx.Where("network_id = ?", id).Delete(&NetworkAddress{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Network{}, id).Error
	}))
}

// NetworkDevicesForNetwork loads every device binding on a network,
// used by the gateway's Reconcile snapshot and by C8 wiring at
// startup.
func (s *Store) NetworkDevicesForNetwork(networkID uint) ([]NetworkDevice, error) {
	var out []NetworkDevice
	if err := s.conn.Where("network_id = ?", networkID).Find(&out).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return out, nil
}

// NetworkDevicesForDevice loads every network a device is bound to.
func (s *Store) NetworkDevicesForDevice(deviceID uint) ([]NetworkDevice, error) {
	var out []NetworkDevice
	if err := s.conn.Where("device_id = ?", deviceID).Find(&out).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return out, nil
}
