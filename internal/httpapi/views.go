package httpapi

import "github.com/defguard/core/internal/db"

// userView is the public projection of db.User: no PasswordHash, no
// encrypted MFA secret columns, no recovery codes.
type userView struct {
	ID         uint   `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	IsActive   bool   `json:"is_active"`
	MFAEnabled bool   `json:"mfa_enabled"`
	MFAMethod  string `json:"mfa_method"`
}

func viewUser(u *db.User) userView {
	return userView{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsActive:   u.IsActive,
		MFAEnabled: u.MFAEnabled,
		MFAMethod:  string(u.MFAMethod),
	}
}

type networkView struct {
	ID                      uint     `json:"id"`
	Name                    string   `json:"name"`
	Address                 []string `json:"address"`
	Port                    int      `json:"port"`
	Endpoint                string   `json:"endpoint"`
	AllowedIPs              []string `json:"allowed_ips"`
	DNS                     []string `json:"dns"`
	AllowedGroups           []string `json:"allowed_groups"`
	MFAEnabled              bool     `json:"mfa_enabled"`
	KeepaliveInterval       int      `json:"keepalive_interval"`
	PeerDisconnectThreshold int      `json:"peer_disconnect_threshold"`
}

func viewNetwork(n *db.Network) networkView {
	return networkView{
		ID:                      n.ID,
		Name:                    n.Name,
		Address:                 n.Address,
		Port:                    n.Port,
		Endpoint:                n.Endpoint,
		AllowedIPs:              n.AllowedIPs,
		DNS:                     n.DNS,
		AllowedGroups:           n.AllowedGroups,
		MFAEnabled:              n.MFAEnabled,
		KeepaliveInterval:       n.KeepaliveInterval,
		PeerDisconnectThreshold: n.PeerDisconnectThreshold,
	}
}

type deviceView struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	WireguardPubkey string `json:"wireguard_pubkey"`
	DeviceType      string `json:"device_type"`
	Configured      bool   `json:"configured"`
}

func viewDevice(d *db.Device) deviceView {
	return deviceView{
		ID:              d.ID,
		Name:            d.Name,
		WireguardPubkey: d.WireguardPubkey,
		DeviceType:      string(d.DeviceType),
		Configured:      d.Configured,
	}
}
