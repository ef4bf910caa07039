package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/defguard/core/internal/apierr"
	"github.com/defguard/core/internal/db"
	"github.com/defguard/core/internal/gateway"
	"github.com/defguard/core/internal/network"
)

func parseDeviceID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, apierr.New(apierr.NotFound, "invalid device id"))
		return 0, false
	}
	return uint(id), true
}

// handleListMyDevices implements `GET /device` for the calling user.
func handleListMyDevices(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := contextUser(c)
		devices, err := deps.Store.DevicesForUser(user.ID)
		if err != nil {
			fail(c, err)
			return
		}
		views := make([]deviceView, 0, len(devices))
		for i := range devices {
			views = append(views, viewDevice(&devices[i]))
		}
		c.JSON(http.StatusOK, gin.H{"devices": views})
	}
}

type addDeviceRequest struct {
	Name      string `json:"name" binding:"required"`
	PublicKey string `json:"public_key" binding:"required"`
}

// handleAddDevice implements `POST /device`: creates a device owned by
// the calling user and binds it into every network their groups allow,
// mirroring the enrollment flow's binding step (spec.md §4.6 step 3)
// for a device added after enrollment.
func handleAddDevice(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addDeviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apierr.New(apierr.IntegrityViolation, "malformed device request"))
			return
		}
		user := contextUser(c)
		device := &db.Device{
			Name:            req.Name,
			WireguardPubkey: req.PublicKey,
			UserID:          &user.ID,
			DeviceType:      db.DeviceTypeUser,
			Configured:      true,
		}
		if err := deps.Store.CreateDevice(device); err != nil {
			fail(c, err)
			return
		}
		bound, err := bindDeviceToAllowedNetworks(deps, device, user.ID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"device": viewDevice(device),
			"bound":  bound,
		})
	}
}

// bindDeviceToAllowedNetworks allocates an address on every network
// the device owner's groups permit and pushes an AddPeer event to that
// network's gateway hub, reusing the same allocate-then-notify pairing
// the enrollment service uses internally.
func bindDeviceToAllowedNetworks(deps *Deps, device *db.Device, userID uint) ([]gin.H, error) {
	userGroups, err := deps.Store.GroupsForUser(userID)
	if err != nil {
		return nil, err
	}
	networks, err := deps.Store.ListNetworks()
	if err != nil {
		return nil, err
	}
	bound := make([]gin.H, 0, len(networks))
	for i := range networks {
		n := &networks[i]
		if !network.GroupsAllowed(n.AllowedGroups, userGroups) {
			continue
		}
		binding, err := deps.Allocator.AllocateForDevice(n.ID, device.ID)
		if err != nil {
			return nil, err
		}
		if deps.Gateway != nil {
			deps.Gateway.AddPeer(n.ID, gateway.Peer{
				DeviceID:     device.ID,
				PublicKey:    device.WireguardPubkey,
				PresharedKey: binding.PresharedKey,
				AllowedIPs:   binding.WireguardIPs,
			})
		}
		bound = append(bound, gin.H{"network_id": n.ID, "address": binding.WireguardIPs})
	}
	return bound, nil
}

// handleDeleteDevice implements `DELETE /device/:id`: releases every
// network binding, notifies each network's gateway hub, then removes
// the device row itself. A non-owning, non-admin caller gets NotFound
// rather than a distinguishing Forbidden, matching the rest of this
// package's no-existence-leak posture.
func handleDeleteDevice(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseDeviceID(c)
		if !ok {
			return
		}
		device, err := deps.Store.GetDevice(id)
		if err != nil {
			fail(c, err)
			return
		}
		user := contextUser(c)
		sess := contextSession(c)
		owner := device.UserID != nil && *device.UserID == user.ID
		if !owner && !sess.AdminElevated {
			fail(c, apierr.New(apierr.NotFound, "device not found"))
			return
		}
		bindings, err := deps.Store.NetworkDevicesForDevice(id)
		if err != nil {
			fail(c, err)
			return
		}
		for _, b := range bindings {
			if err := deps.Allocator.Release(b.NetworkID, id); err != nil {
				fail(c, err)
				return
			}
			if deps.Gateway != nil {
				deps.Gateway.RemovePeer(b.NetworkID, id)
			}
		}
		if err := deps.Store.DeleteDevice(id); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
