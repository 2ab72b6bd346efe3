package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"rollcall/internal/domain/reconcile"
	"rollcall/internal/infrastructure/http/v1/dto"
)

// Reconciler is the orchestrator entry point the sync handler drives.
type Reconciler interface {
	Reconcile(ctx context.Context, req *reconcile.Request) (*reconcile.Response, error)
}

// SyncHandler serves the push-and-pull endpoint.
type SyncHandler struct {
	*BaseHandler
	service Reconciler
}

func NewSyncHandler(base *BaseHandler, service Reconciler) *SyncHandler {
	return &SyncHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the handler on rg.
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sync", h.Sync)
}

// Sync applies the pushed operations and returns the delta since cursorMs.
// POST /api/v1/sync
func (h *SyncHandler) Sync(c *gin.Context) {
	var body dto.SyncRequest
	if !h.BindJSON(c, &body) {
		return
	}

	req, err := body.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	resp, err := h.service.Reconcile(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, resp)
}
