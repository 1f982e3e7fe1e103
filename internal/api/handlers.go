package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"price-tracker/internal/marketplace"
	"price-tracker/internal/monitor"
	"price-tracker/internal/storage"
	"price-tracker/internal/version"
)

// Handlers contains all API handlers.
type Handlers struct {
	tracker monitor.Tracker
}

// NewHandlers creates a new handlers instance.
func NewHandlers(tracker monitor.Tracker) *Handlers {
	return &Handlers{tracker: tracker}
}

// CreateItemRequest is the body of POST /api/items.
type CreateItemRequest struct {
	Owner string `json:"owner" binding:"required"`
	URL   string `json:"url" binding:"required"`
	// Check records the first price right away.
	Check bool `json:"check"`
}

// HealthCheck returns the health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   version.Current().Version,
		"domains":   marketplace.Domains(),
		"timestamp": time.Now().Unix(),
	})
}

// ListItems returns the owner's items, or every item when owner is omitted.
// Items are grouped by domain.
func (h *Handlers) ListItems(c *gin.Context) {
	ctx := c.Request.Context()
	owner := c.Query("owner")

	var (
		items []storage.TrackedItem
		err   error
	)
	if owner == "" {
		items, err = h.tracker.Snapshot(ctx)
	} else {
		items, err = h.tracker.ListItems(ctx, owner)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Domain < items[j].Domain })
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GetItem returns a single item.
func (h *Handlers) GetItem(c *gin.Context) {
	item, err := h.tracker.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// CreateItem registers a URL for an owner.
func (h *Handlers) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	item, err := h.tracker.RegisterItem(ctx, req.Owner, req.URL)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"item": item}
	if req.Check {
		res, err := h.tracker.CheckItem(ctx, item.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		resp["check"] = res
		if refreshed, err := h.tracker.GetItem(ctx, item.ID); err == nil {
			resp["item"] = refreshed
		}
	}
	c.JSON(http.StatusCreated, resp)
}

// DeleteItem stops tracking an item. The owner query parameter is required.
func (h *Handlers) DeleteItem(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner is required"})
		return
	}
	if err := h.tracker.RemoveItem(c.Request.Context(), owner, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CheckItem checks one item now.
func (h *Handlers) CheckItem(c *gin.Context) {
	res, err := h.tracker.CheckItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RunCycle runs one full check cycle.
func (h *Handlers) RunCycle(c *gin.Context) {
	report, err := h.tracker.RunCycle(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyTracked),
		errors.Is(err, monitor.ErrCycleInProgress),
		errors.Is(err, monitor.ErrItemBusy):
		status = http.StatusConflict
	case errors.Is(err, marketplace.ErrUnsupportedDomain),
		errors.Is(err, monitor.ErrInvalidOwner),
		errors.Is(err, monitor.ErrInvalidURL):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
