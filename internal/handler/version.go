package handler

import (
	"net/http"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gin-gonic/gin"

	"omniclip/internal/protocol"
)

type VersionHandler struct {
	Service Service
}

func (h *VersionHandler) Get(c *gin.Context) {
	resp := gin.H{
		"version":          versioninfo.Short(),
		"revision":         versioninfo.Revision,
		"protocol_version": protocol.ProtocolVersion,
	}
	if h.Service != nil {
		id := h.Service.Identity()
		resp["device_id"] = id.ID
		resp["device_name"] = id.Name
		resp["fingerprint"] = id.Fingerprint()
		resp["port"] = h.Service.Port()
	}
	c.JSON(http.StatusOK, resp)
}
