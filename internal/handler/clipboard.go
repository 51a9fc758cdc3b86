package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"omniclip/internal/protocol"
)

type ClipboardHandler struct {
	Service Service
}

type clipboardBody struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// Send pushes content to the paired devices as if it had been copied locally.
func (h *ClipboardHandler) Send(c *gin.Context) {
	var body clipboardBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	content := protocol.Text(body.Text)
	if body.HTML != "" {
		content = protocol.RichText(body.Text, body.HTML)
	}
	if content.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty clipboard content"})
		return
	}
	if err := h.Service.HandleClipboardChange(c.Request.Context(), content); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"hash": content.Hash().String()})
}
