package db

import "testing"

func newTestStoreForGroups(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := Migrate(store.Conn()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestMigrateSeedsAdminGroup(t *testing.T) {
	store := newTestStoreForGroups(t)
	var group Group
	if err := store.Conn().Where("name = ?", AdminGroupName).First(&group).Error; err != nil {
		t.Fatalf("expected the admin group to be seeded: %v", err)
	}
}

func TestAddUserToGroupThenIsUserInGroup(t *testing.T) {
	store := newTestStoreForGroups(t)
	user := &User{Username: "alice", Email: "alice@example.com"}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	ok, err := store.IsUserInGroup(user.ID, "engineering")
	if err != nil {
		t.Fatalf("IsUserInGroup: %v", err)
	}
	if ok {
		t.Fatalf("expected no membership before AddUserToGroup")
	}

	if err := store.AddUserToGroup(user.ID, "engineering"); err != nil {
		t.Fatalf("AddUserToGroup: %v", err)
	}
	ok, err = store.IsUserInGroup(user.ID, "engineering")
	if err != nil {
		t.Fatalf("IsUserInGroup: %v", err)
	}
	if !ok {
		t.Fatalf("expected membership after AddUserToGroup")
	}

	// Idempotent.
	if err := store.AddUserToGroup(user.ID, "engineering"); err != nil {
		t.Fatalf("AddUserToGroup (repeat): %v", err)
	}
}

func TestGroupsForUser(t *testing.T) {
	store := newTestStoreForGroups(t)
	user := &User{Username: "bob", Email: "bob@example.com"}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.AddUserToGroup(user.ID, "engineering"); err != nil {
		t.Fatalf("AddUserToGroup: %v", err)
	}
	if err := store.AddUserToGroup(user.ID, AdminGroupName); err != nil {
		t.Fatalf("AddUserToGroup: %v", err)
	}

	groups, err := store.GroupsForUser(user.ID)
	if err != nil {
		t.Fatalf("GroupsForUser: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %v", groups)
	}
}

func TestRemoveUserFromGroup(t *testing.T) {
	store := newTestStoreForGroups(t)
	user := &User{Username: "carol", Email: "carol@example.com"}
	if err := store.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.AddUserToGroup(user.ID, "engineering"); err != nil {
		t.Fatalf("AddUserToGroup: %v", err)
	}
	if err := store.RemoveUserFromGroup(user.ID, "engineering"); err != nil {
		t.Fatalf("RemoveUserFromGroup: %v", err)
	}
	ok, err := store.IsUserInGroup(user.ID, "engineering")
	if err != nil {
		t.Fatalf("IsUserInGroup: %v", err)
	}
	if ok {
		t.Fatalf("expected membership removed")
	}

	// Removing a membership that was never there is a no-op, not an error.
	if err := store.RemoveUserFromGroup(user.ID, "nonexistent"); err != nil {
		t.Fatalf("RemoveUserFromGroup on nonexistent group should be a no-op: %v", err)
	}
}
