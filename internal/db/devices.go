package db

import "github.com/jinzhu/gorm"

// CreateDevice persists a new device (user client endpoint or network
// gateway peer).
func (s *Store) CreateDevice(d *Device) error {
	return wrapPackageError(s.conn.Create(d).Error)
}

// GetDevice loads a device by id.
func (s *Store) GetDevice(id uint) (*Device, error) {
	var d Device
	if err := s.conn.First(&d, id).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return &d, nil
}

// DevicesForUser loads every device owned by userID.
func (s *Store) DevicesForUser(userID uint) ([]Device, error) {
	var out []Device
	if err := s.conn.Where("user_id = ?", userID).Find(&out).Error; err != nil {
		return nil, wrapPackageError(err)
	}
	return out, nil
}

// UpdateDevice saves the full row.
func (s *Store) UpdateDevice(d *Device) error {
	return wrapPackageError(s.conn.Save(d).Error)
}

// DeleteDevice removes a device and its network bindings.
func (s *Store) DeleteDevice(id uint) error {
	return wrapPackageError(s.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", id).Delete(&NetworkDevice{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Device{}, id).Error
	}))
}
