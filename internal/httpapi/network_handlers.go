package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
	"github.com/defguard/core/internal/network"
)

func parseNetworkID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, apierr.New(apierr.NotFound, "invalid network id"))
		return 0, false
	}
	return uint(id), true
}

type createNetworkRequest struct {
	Name                    string   `json:"name" binding:"required"`
	Address                 []string `json:"address" binding:"required"`
	Port                    int      `json:"port" binding:"required"`
	Endpoint                string   `json:"endpoint" binding:"required"`
	AllowedIPs              []string `json:"allowed_ips"`
	DNS                     []string `json:"dns"`
	AllowedGroups           []string `json:"allowed_groups"`
	MFAEnabled              bool     `json:"mfa_enabled"`
	KeepaliveInterval       int      `json:"keepalive_interval"`
	PeerDisconnectThreshold int      `json:"peer_disconnect_threshold"`
	GatewayPrivateKey       string   `json:"gateway_private_key" binding:"required"`
}

// handleCreateNetwork implements `POST /network` (admin).
func handleCreateNetwork(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createNetworkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.IntegrityViolation, "malformed network request"))
			return
		}
		n := &db.Network{
			Name:                    req.Name,
			Address:                 req.Address,
			Port:                    req.Port,
			Endpoint:                req.Endpoint,
			AllowedIPs:              req.AllowedIPs,
			DNS:                     req.DNS,
			AllowedGroups:           req.AllowedGroups,
			MFAEnabled:              req.MFAEnabled,
			KeepaliveInterval:       defaultInt(req.KeepaliveInterval, 25),
			PeerDisconnectThreshold: defaultInt(req.PeerDisconnectThreshold, 300),
			GatewayPrivateKey:       req.GatewayPrivateKey,
		}
		if err := deps.Store.CreateNetwork(n); err != nil {
			fail(c, err)
			return
		}
		if err := deps.Allocator.AllocateSubnet(n.ID, n.Address); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"network": viewNetwork(n)})
	}
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// handleListNetworks implements `GET /network`.
func handleListNetworks(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		networks, err := deps.Store.ListNetworks()
		if err != nil {
			fail(c, err)
			return
		}
		views := make([]networkView, 0, len(networks))
		for i := range networks {
			views = append(views, viewNetwork(&networks[i]))
		}
		c.JSON(http.StatusOK, gin.H{"networks": views})
	}
}

// handleGetNetwork implements `GET /network/:id`.
func handleGetNetwork(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseNetworkID(c)
		if !ok {
			return
		}
		n, err := deps.Store.GetNetwork(id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"network": viewNetwork(n)})
	}
}

// handleDeleteNetwork implements `DELETE /network/:id` (admin).
func handleDeleteNetwork(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseNetworkID(c)
		if !ok {
			return
		}
		if err := deps.Store.DeleteNetwork(id); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// handleImportNetworkConfig implements the wg-quick import half of
// spec.md §6's config-format requirement: the request body is a raw
// wg-quick document, parsed and used to create a network.
func handleImportNetworkConfig(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fail(c, apierr.Wrap(apierr.IntegrityViolation, "read wg-quick body", err))
			return
		}
		cfg, err := network.ParseWgQuick(string(raw))
		if err != nil {
			fail(c, err)
			return
		}
		n := &db.Network{
			Name:              c.Query("name"),
			Address:           cfg.Interface.Address,
			Port:              cfg.Interface.ListenPort,
			DNS:               cfg.Interface.DNS,
			GatewayPrivateKey: cfg.Interface.PrivateKey,
		}
		if n.Name == "" {
			fail(c, apierr.New(apierr.IntegrityViolation, "missing name query parameter"))
			return
		}
		if err := deps.Store.CreateNetwork(n); err != nil {
			fail(c, err)
			return
		}
		if err := deps.Allocator.AllocateSubnet(n.ID, n.Address); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"network": viewNetwork(n)})
	}
}

// handleExportNetworkConfig implements the wg-quick export half:
// renders a network plus its bound devices back into wg-quick text.
func handleExportNetworkConfig(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseNetworkID(c)
		if !ok {
			return
		}
		n, err := deps.Store.GetNetwork(id)
		if err != nil {
			fail(c, err)
			return
		}
		bindings, err := deps.Store.NetworkDevicesForNetwork(id)
		if err != nil {
			fail(c, err)
			return
		}
		cfg := &network.Config{
			Interface: network.InterfaceConfig{
				PrivateKey: n.GatewayPrivateKey,
				Address:    n.Address,
				ListenPort: n.Port,
				DNS:        n.DNS,
			},
		}
		for _, b := range bindings {
			device, err := deps.Store.GetDevice(b.DeviceID)
			if err != nil {
				continue
			}
			cfg.Peers = append(cfg.Peers, network.PeerConfig{
				PublicKey:           device.WireguardPubkey,
				PresharedKey:        b.PresharedKey,
				AllowedIPs:          b.WireguardIPs,
				PersistentKeepalive: n.KeepaliveInterval,
			})
		}
		text, err := network.Render(cfg)
		if err != nil {
			fail(c, err)
			return
		}
		c.Data(http.StatusOK, "text/plain", []byte(text))
	}
}
