package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"omniclip/internal/model"
)

type DeviceHandler struct {
	Service Service
}

func deviceJSON(d model.PairedDevice) gin.H {
	return gin.H{
		"id":          d.ID,
		"name":        d.Name,
		"fingerprint": d.Fingerprint,
		"addr":        d.Addr,
		"paired_at":   d.PairedAt.UTC().Format(time.RFC3339),
		"last_seen":   d.LastSeen.UTC().Format(time.RFC3339),
	}
}

func peerJSON(p model.Peer) gin.H {
	return gin.H{
		"device_id":        p.DeviceID,
		"name":             p.Name,
		"fingerprint":      p.Fingerprint,
		"addr":             p.Addr(),
		"protocol_version": p.ProtocolVersion,
		"last_seen":        p.LastSeen.UTC().Format(time.RFC3339),
	}
}

func (h *DeviceHandler) List(c *gin.Context) {
	devices := h.Service.PairedDevices()
	resp := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, deviceJSON(d))
	}
	c.JSON(http.StatusOK, gin.H{"devices": resp})
}

func (h *DeviceHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if !h.Service.Unpair(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Peers lists what discovery currently sees, paired or not.
func (h *DeviceHandler) Peers(c *gin.Context) {
	peers := h.Service.Peers()
	resp := make([]gin.H, 0, len(peers))
	for _, p := range peers {
		resp = append(resp, peerJSON(p))
	}
	c.JSON(http.StatusOK, gin.H{"peers": resp})
}
