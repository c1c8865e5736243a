package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/webreport/scrapetask/internal/task"
)

const (
	defaultReportLimit = 50
	maxReportLimit     = 500
	listTimeout        = 3 * time.Second
)

// ReportHandler exposes read-only report listing endpoints.
type ReportHandler struct {
	blob    task.BlobStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewReportHandler wires the blob store and logger.
func NewReportHandler(blob task.BlobStore, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{
		blob:    blob,
		timeout: listTimeout,
		logger:  logger,
	}
}

type reportListEntry struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	ETag string `json:"etag"`
}

// ListReports handles GET /reports?prefix=&limit=. It returns a JSON object
// {"reports": [...]} on success, 400 for an invalid limit, or 500 if the
// blob store call fails.
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, err := parseLimit(r, defaultReportLimit, maxReportLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prefix := r.URL.Query().Get("prefix")

	keys, err := h.blob.List(ctx, prefix)
	if err != nil {
		h.logger.Error("list reports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]reportListEntry, 0, len(keys))
	for _, key := range keys {
		entry := reportListEntry{Key: key}
		if attrs, err := h.blob.Attrs(ctx, key); err == nil {
			entry.Size = attrs.Size
			entry.ETag = attrs.ETag
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": entries})
}

func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, task.NewValidationError("limit", "must be a positive integer")
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}
