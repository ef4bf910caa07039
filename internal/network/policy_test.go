package network

import "testing"

func TestGroupsAllowedEmptyMeansEveryone(t *testing.T) {
	if !GroupsAllowed(nil, []string{"engineering"}) {
		t.Fatalf("expected empty allowed_groups to admit any user")
	}
}

func TestGroupsAllowedRequiresIntersection(t *testing.T) {
	if GroupsAllowed([]string{"ops"}, []string{"engineering"}) {
		t.Fatalf("expected disjoint groups to be denied")
	}
	if !GroupsAllowed([]string{"ops", "engineering"}, []string{"engineering"}) {
		t.Fatalf("expected overlapping groups to be allowed")
	}
}

func TestNetworksForUserFilters(t *testing.T) {
	networks := []Network{
		{ID: 1, AllowedGroups: nil},
		{ID: 2, AllowedGroups: []string{"ops"}},
		{ID: 3, AllowedGroups: []string{"engineering"}},
	}
	filtered := NetworksForUser(networks, []string{"engineering"})
	if len(filtered) != 2 {
		t.Fatalf("expected 2 networks to be visible, got %d", len(filtered))
	}
}
