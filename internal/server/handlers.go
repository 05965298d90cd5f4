package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blackwell-systems/addonsync/internal/addon"
)

type handlers struct {
	records RecordLister
	queue   QueueReader
	trigger Firer
}

type recordResponse struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	ProxyName      string   `json:"proxy_name,omitempty"`
	Status         string   `json:"status"`
	RepositoryID   int64    `json:"repository_id"`
	CurrentVersion string   `json:"current_version,omitempty"`
	TargetVersion  string   `json:"target_version"`
	Supports       []string `json:"supports,omitempty"`
	UpdatedAt      string   `json:"updated_at"`
}

func toResponse(rec *addon.Record) recordResponse {
	return recordResponse{
		ID:             rec.ID,
		Name:           rec.Name,
		ProxyName:      rec.ProxyName,
		Status:         string(rec.Status),
		RepositoryID:   rec.RepositoryID,
		CurrentVersion: rec.CurrentVersion,
		TargetVersion:  rec.TargetVersion,
		Supports:       rec.Supports,
		UpdatedAt:      rec.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listRecords serves one kind's records, optionally filtered by ?status=.
func (h *handlers) listRecords(kind addon.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := addon.Status(c.Query("status"))
		if status != "" && !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(status)})
			return
		}

		records, err := h.records.List(c.Request.Context(), kind)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		out := []recordResponse{}
		for _, rec := range records {
			if status != "" && rec.Status != status {
				continue
			}
			out = append(out, toResponse(rec))
		}
		c.JSON(http.StatusOK, gin.H{"kind": kind, "records": out})
	}
}

func (h *handlers) pendingQueue(c *gin.Context) {
	entries, err := h.queue.Drain(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type entryResponse struct {
		ID        string    `json:"id"`
		Event     string    `json:"event"`
		Channel   string    `json:"channel"`
		Listeners []string  `json:"listeners"`
		Package   addon.Ref `json:"package"`
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:        e.ID,
			Event:     string(e.Kind),
			Channel:   e.Channel,
			Listeners: e.Listeners,
			Package:   e.Package,
		})
	}
	c.JSON(http.StatusOK, gin.H{"pending": len(out), "entries": out})
}

// drain forces a drain regardless of the trigger's state.
func (h *handlers) drain(c *gin.Context) {
	if h.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no drain trigger configured"})
		return
	}
	h.trigger.Arm()
	n, err := h.trigger.Fire(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"dispatched": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatched": n})
}
