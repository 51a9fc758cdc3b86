package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"omniclip/internal/service"
)

const qrSize = 320

type PairingHandler struct {
	Service Service
}

func offerJSON(o service.Offer) gin.H {
	return gin.H{
		"session_id": o.Descriptor.SessionID,
		"url":        o.URL,
		"host":       o.Descriptor.Host,
		"port":       o.Descriptor.Port,
		"expires_at": o.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Create opens a pairing session to be scanned by another device.
func (h *PairingHandler) Create(c *gin.Context) {
	offer, err := h.Service.StartPairing()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pairing": offerJSON(offer)})
}

func (h *PairingHandler) QR(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	offer, ok := h.Service.PairingOffer(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pairing session not found"})
		return
	}
	png, err := qrcode.Encode(offer.URL, qrcode.Medium, qrSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *PairingHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if !h.Service.CancelPairing(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pairing session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type joinBody struct {
	URL string `json:"url" binding:"required"`
}

// Join pairs with the device that shows the given URL.
func (h *PairingHandler) Join(c *gin.Context) {
	var body joinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	device, err := h.Service.Pair(c.Request.Context(), body.URL)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": deviceJSON(device)})
}
