package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"omniclip/internal/errs"
	"omniclip/internal/model"
	"omniclip/internal/pairing"
	"omniclip/internal/protocol"
	"omniclip/internal/service"
)

// Service is the part of the sync service the control API drives.
type Service interface {
	Identity() *model.Identity
	Port() int
	StartPairing() (service.Offer, error)
	PairingOffer(id uuid.UUID) (service.Offer, bool)
	CancelPairing(id uuid.UUID) bool
	Pair(ctx context.Context, rawURL string) (model.PairedDevice, error)
	PairedDevices() []model.PairedDevice
	Unpair(id uuid.UUID) bool
	Peers() []model.Peer
	HandleClipboardChange(ctx context.Context, content protocol.Content) error
}

var _ Service = (*service.Service)(nil)

// abortWithError maps an error kind onto a status code.
func abortWithError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error(), "kind": errs.Kind(err)}
	if field, ok := pairing.IsFieldError(err); ok {
		body["field"] = field
		c.JSON(http.StatusBadRequest, body)
		return
	}
	switch {
	case errors.Is(err, errs.ErrInvalidMessage), errors.Is(err, errs.ErrSerialization):
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, errs.ErrNotPaired):
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, errs.ErrCrypto):
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, errs.ErrNetwork):
		c.JSON(http.StatusBadGateway, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
