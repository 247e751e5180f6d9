// vidvault/api/handler.go
package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vidvault/config"
	"vidvault/extract"
	"vidvault/progress"
	"vidvault/storage"
	"vidvault/task"
	"vidvault/worker"
)

// TaskStore is the slice of the task store the API needs.
type TaskStore interface {
	Create(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	Ping(ctx context.Context) error
}

// ProgressSource reads back live byte counters for in-flight tasks.
// Optional; nil disables progress in status responses.
type ProgressSource interface {
	Get(ctx context.Context, taskID string) (*progress.Snapshot, error)
}

type Handler struct {
	store     TaskStore
	extractor extract.Extractor
	sink      storage.Storage
	progress  ProgressSource
	cfg       *config.Config
	log       *zap.Logger

	// Cached supported-sites list; static for a given extractor binary.
	sitesMu sync.Mutex
	sites   []string
}

func NewHandler(store TaskStore, extractor extract.Extractor, sink storage.Storage, progress ProgressSource, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		extractor: extractor,
		sink:      sink,
		progress:  progress,
		cfg:       cfg,
		log:       log,
	}
}

type TaskRequest struct {
	ID         string `json:"id"`
	URL        string `json:"url" binding:"required"`
	WebhookURL string `json:"webhook_url"`
}

// handleCreateTask accepts a URL for asynchronous processing. The task ID
// combines the caller's base ID (or a generated one) with a short hash of
// the URL, so resubmitting the same pair is visible as a conflict instead
// of a duplicate row.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must start with http:// or https://"})
		return
	}

	baseID := req.ID
	if baseID == "" {
		baseID = uuid.NewString()
	}
	id := task.DeriveID(baseID, req.URL)

	existing, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check task", "details": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":         "task already exists for this id and url",
			"processing_id": existing.ID,
			"status":        existing.Status,
		})
		return
	}

	t := &task.Task{ID: id, SourceURL: req.URL}
	if req.WebhookURL != "" {
		t.WebhookURL.String = req.WebhookURL
		t.WebhookURL.Valid = true
	}
	if err := h.store.Create(c.Request.Context(), t); err != nil {
		// A concurrent submission can win the race between the existence
		// check and the insert; the loser gets the same conflict answer.
		if task.IsDuplicate(err) {
			c.JSON(http.StatusConflict, gin.H{
				"error":         "task already exists for this id and url",
				"processing_id": id,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	h.log.Info("task accepted",
		zap.String("request_id", c.GetString("request_id")),
		zap.String("task_id", id))
	c.JSON(http.StatusAccepted, gin.H{"processing_id": id, "status": task.StatusQueued})
}

// handleGetTaskStatus returns the stored task row, with live byte
// progress attached while the task is still processing.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	id := c.Param("taskId")
	t, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task", "details": err.Error()})
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	resp := gin.H{
		"processing_id": t.ID,
		"status":        t.Status,
		"attempts":      t.Attempts,
		"created_at":    t.CreatedAt,
		"updated_at":    t.UpdatedAt,
	}
	if t.Result != nil {
		resp["result"] = t.Result
	}
	if t.ErrorDetail.Valid {
		resp["error_details"] = t.ErrorDetail.String
	}
	if t.Status == task.StatusProcessing && h.progress != nil {
		if snap, err := h.progress.Get(c.Request.Context(), t.ID); err == nil && snap != nil {
			resp["progress"] = snap
		}
	}
	c.JSON(http.StatusOK, resp)
}

type InfoRequest struct {
	URL string `json:"url" binding:"required"`
}

// handleVideoInfo extracts metadata without downloading anything.
func (h *Handler) handleVideoInfo(c *gin.Context) {
	var req InfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.InfoTimeout)
	defer cancel()

	info, err := h.extractor.Info(ctx, req.URL)
	if err != nil {
		status := http.StatusBadGateway
		if xerr, ok := err.(*extract.Error); ok {
			switch xerr.Code {
			case extract.CodeUnsupported, extract.CodeFormat:
				status = http.StatusUnprocessableEntity
			case extract.CodeTimeout:
				status = http.StatusGatewayTimeout
			}
		}
		c.JSON(status, gin.H{"error": "Failed to extract video info", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleSupportedSites lists the source sites the extractor can handle.
// The list only changes with the extractor binary, so a successful
// lookup is served from cache afterwards.
func (h *Handler) handleSupportedSites(c *gin.Context) {
	h.sitesMu.Lock()
	cached := h.sites
	h.sitesMu.Unlock()

	if cached == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.InfoTimeout)
		defer cancel()

		sites, err := h.extractor.SupportedSites(ctx)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list supported sites", "details": err.Error()})
			return
		}
		h.sitesMu.Lock()
		h.sites = sites
		h.sitesMu.Unlock()
		cached = sites
	}

	c.JSON(http.StatusOK, gin.H{"supported_sites": cached, "count": len(cached)})
}

// handleListVideos lists stored artifacts grouped by processing ID.
func (h *Handler) handleListVideos(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	objects, err := h.sink.List(c.Request.Context(), "videos/", limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list videos", "details": err.Error()})
		return
	}

	grouped := map[string][]storage.ObjectInfo{}
	for _, obj := range objects {
		pid := processingIDFromKey(obj.Key)
		if pid == "" {
			continue
		}
		grouped[pid] = append(grouped[pid], obj)
	}

	ids := make([]string, 0, len(grouped))
	for pid := range grouped {
		ids = append(ids, pid)
	}
	sort.Strings(ids)

	videos := make([]gin.H, 0, len(ids))
	for _, pid := range ids {
		videos = append(videos, gin.H{"processing_id": pid, "files": grouped[pid]})
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos, "count": len(videos)})
}

// handleGetVideo returns the artifacts of one processing ID with fresh
// signed URLs.
func (h *Handler) handleGetVideo(c *gin.Context) {
	pid := c.Param("processingId")
	objects, err := h.sink.List(c.Request.Context(), worker.ArtifactPrefix(pid), 100)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list video files", "details": err.Error()})
		return
	}
	if len(objects) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}

	files := make([]gin.H, 0, len(objects))
	for _, obj := range objects {
		entry := gin.H{"key": obj.Key, "size": obj.Size, "updated_at": obj.UpdatedAt}
		if url, err := h.sink.URL(c.Request.Context(), obj.Key, h.cfg.URLExpiry); err == nil {
			entry["url"] = url
		} else {
			h.log.Warn("signed url generation failed", zap.String("key", obj.Key), zap.Error(err))
		}
		files = append(files, entry)
	}
	c.JSON(http.StatusOK, gin.H{"processing_id": pid, "files": files})
}

// handleDeleteVideo removes every stored artifact of one processing ID.
func (h *Handler) handleDeleteVideo(c *gin.Context) {
	pid := c.Param("processingId")
	objects, err := h.sink.List(c.Request.Context(), worker.ArtifactPrefix(pid), 100)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list video files", "details": err.Error()})
		return
	}
	if len(objects) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}

	deleted := 0
	for _, obj := range objects {
		if err := h.sink.Delete(c.Request.Context(), obj.Key); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "Failed to delete video files",
				"details": err.Error(),
				"deleted": deleted,
			})
			return
		}
		deleted++
	}

	h.log.Info("video deleted", zap.String("processing_id", pid), zap.Int("files", deleted))
	c.JSON(http.StatusOK, gin.H{"processing_id": pid, "deleted": deleted})
}

// handleHealth reports component readiness. The service is degraded, not
// down, when the database is unreachable, so the endpoint stays 200.
func (h *Handler) handleHealth(c *gin.Context) {
	dbStatus := "ok"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		dbStatus = "unreachable"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": dbStatus})
}

// processingIDFromKey extracts the processing ID from an object key laid
// out as videos/{processing_id}/{filename}.
func processingIDFromKey(key string) string {
	rest := strings.TrimPrefix(key, "videos/")
	if rest == key {
		return ""
	}
	i := strings.IndexByte(rest, '/')
	if i <= 0 {
		return ""
	}
	return rest[:i]
}
