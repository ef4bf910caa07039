package db

import (
	"github.com/jinzhu/gorm"
)

// GroupsForUser returns the names of every group userID belongs to.
func (s *Store) GroupsForUser(userID uint) ([]string, error) {
	var groups []Group
	err := s.conn.
		Joins("JOIN user_groups ON user_groups.group_id = groups.id").
		Where("user_groups.user_id = ?", userID).
		Find(&groups).Error
	if err != nil {
		return nil, wrapPackageError(err)
	}
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	return names, nil
}

// IsUserInGroup reports whether userID belongs to the named group.
// elevate_admin calls this with AdminGroupName.
func (s *Store) IsUserInGroup(userID uint, groupName string) (bool, error) {
	var group Group
	if err := s.conn.Where("name = ?", groupName).First(&group).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return false, nil
		}
		return false, wrapPackageError(err)
	}
	var count int
	err := s.conn.Model(&UserGroup{}).
		Where("user_id = ? AND group_id = ?", userID, group.ID).
		Count(&count).Error
	if err != nil {
		return false, wrapPackageError(err)
	}
	return count > 0, nil
}

// AddUserToGroup creates groupName if it does not exist and binds
// userID to it. Idempotent: adding an existing membership is a no-op.
func (s *Store) AddUserToGroup(userID uint, groupName string) error {
	return wrapPackageError(s.conn.Transaction(func(tx *gorm.DB) error {
		var group Group
		if err := tx.FirstOrCreate(&group, Group{Name: groupName}).Error; err != nil {
			return err
		}
		var existing UserGroup
		err := tx.Where("user_id = ? AND group_id = ?", userID, group.ID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !gorm.IsRecordNotFoundError(err) {
			return err
		}
		return tx.Create(&UserGroup{UserID: userID, GroupID: group.ID}).Error
	}))
}

// RemoveUserFromGroup unbinds userID from groupName, if bound.
func (s *Store) RemoveUserFromGroup(userID uint, groupName string) error {
	return wrapPackageError(s.conn.Transaction(func(tx *gorm.DB) error {
		var group Group
		if err := tx.Where("name = ?", groupName).First(&group).Error; err != nil {
			if gorm.IsRecordNotFoundError(err) {
				return nil
			}
			return err
		}
		return tx.Where("user_id = ? AND group_id = ?", userID, group.ID).Delete(&UserGroup{}).Error
	}))
}
