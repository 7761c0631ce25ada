// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianScan/services/scan/archive"
	"github.com/AleutianAI/AleutianScan/services/scan/config"
	"github.com/AleutianAI/AleutianScan/services/scan/finder"
	"github.com/AleutianAI/AleutianScan/services/scan/snapshot"
)

// ServiceVersion is the scan service version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the scan service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleInit handles POST /v1/scan/init.
//
// Description:
//
//	Builds a finder for an archive and caches it. Replaces any finder
//	already cached for the same path.
//
// Request Body:
//
//	InitRequest
//
// Response:
//
//	200 OK: InitResponse
//	400 Bad Request: Validation error
//	409 Conflict: Init already running for this archive
//	500 Internal Server Error: Build error
func (h *Handlers) HandleInit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleInit")

	var req InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	logger.Info("initializing finder", slog.String("archive_path", req.ArchivePath))

	resp, err := h.svc.Init(c.Request.Context(), req)
	if err != nil {
		status, code := initErrorStatus(err)
		logger.Warn("init failed", slog.String("error", err.Error()), slog.String("code", code))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func initErrorStatus(err error) (int, string) {
	var parseErr *finder.ParseError
	switch {
	case errors.Is(err, ErrRelativePath), errors.Is(err, ErrPathTraversal):
		return http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, archive.ErrUnsupportedArchive):
		return http.StatusBadRequest, "UNSUPPORTED_ARCHIVE"
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, archive.ErrInvalidPattern):
		return http.StatusBadRequest, "INVALID_CONFIG"
	case errors.Is(err, ErrInitInProgress):
		return http.StatusConflict, "INIT_IN_PROGRESS"
	case errors.Is(err, ErrSnapshotsDisabled):
		return http.StatusServiceUnavailable, "SNAPSHOTS_NOT_AVAILABLE"
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity, "MALFORMED_CLASS"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "INIT_TIMEOUT"
	default:
		return http.StatusInternalServerError, "INIT_FAILED"
	}
}

// HandleListFinders handles GET /v1/scan/finders.
func (h *Handlers) HandleListFinders(c *gin.Context) {
	c.JSON(http.StatusOK, ListFindersResponse{Finders: h.svc.ListFinders()})
}

// HandleInvalidate handles DELETE /v1/scan/finders/:id.
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	id := c.Param("id")
	removed := h.svc.Invalidate(id)
	if !removed {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "finder not found",
			Code:  "FINDER_NOT_FOUND",
		})
		return
	}
	slog.Info("finder evicted", "request_id", requestID, "finder_id", id)
	c.JSON(http.StatusOK, InvalidateResponse{FinderID: id, Removed: true})
}

// HandleAnnotated handles GET /v1/scan/annotated/:kind.
//
// Description:
//
//	Finds elements carrying an annotation. Kind is one of classes,
//	methods, constructors, fields, parameters, packages.
//
// Query Parameters:
//
//	annotation: Binary name of the annotation (required)
//	finder_id: ID of the finder to query (optional, uses newest if not specified)
//	archive_path: Alternative to finder_id
//
// Response:
//
//	200 OK: QueryResponse
//	400 Bad Request: Missing parameter or unknown kind
//	404 Not Found: No finder cached
func (h *Handlers) HandleAnnotated(c *gin.Context) {
	h.runQuery(c, "HandleAnnotated", Query{
		Kind:   c.Param("kind"),
		Target: c.Query("annotation"),
	})
}

// HandleMetaAnnotated handles GET /v1/scan/meta/:kind.
//
// Description:
//
//	Like HandleAnnotated but follows meta-annotations. Kind is one of
//	classes, methods, constructors, fields.
func (h *Handlers) HandleMetaAnnotated(c *gin.Context) {
	h.runQuery(c, "HandleMetaAnnotated", Query{
		Kind:   c.Param("kind"),
		Meta:   true,
		Target: c.Query("annotation"),
	})
}

// HandleSubclasses handles GET /v1/scan/subclasses?class=X.
func (h *Handlers) HandleSubclasses(c *gin.Context) {
	h.runQuery(c, "HandleSubclasses", Query{
		Kind:   KindSubclasses,
		Target: c.Query("class"),
	})
}

// HandleImplementations handles GET /v1/scan/implementations?interface=X.
func (h *Handlers) HandleImplementations(c *gin.Context) {
	h.runQuery(c, "HandleImplementations", Query{
		Kind:   KindImplementations,
		Target: c.Query("interface"),
	})
}

// HandlePackage handles GET /v1/scan/package?package=X&recursive=true.
func (h *Handlers) HandlePackage(c *gin.Context) {
	recursive, _ := strconv.ParseBool(c.DefaultQuery("recursive", "false"))
	h.runQuery(c, "HandlePackage", Query{
		Kind:      KindPackage,
		Target:    c.Query("package"),
		Recursive: recursive,
	})
}

// runQuery resolves the finder and writes the query response.
func (h *Handlers) runQuery(c *gin.Context, handler string, q Query) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", handler)

	if q.Target == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrMissingTarget.Error(),
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	cached, finderID, err := h.resolveFinder(c)
	if err != nil {
		return // resolveFinder already wrote the error response
	}

	var resp *QueryResponse
	err = cached.Use(func(f *finder.Finder) error {
		var queryErr error
		resp, queryErr = RunQuery(c.Request.Context(), f, q)
		return queryErr
	})
	if err != nil {
		status, code := queryErrorStatus(err)
		logger.Warn("query failed",
			slog.String("kind", q.Kind),
			slog.String("target", q.Target),
			slog.String("error", err.Error()),
		)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	resp.FinderID = finderID

	if len(resp.ClassesNotLoaded) > 0 {
		logger.Debug("query returned partial results",
			slog.String("kind", q.Kind),
			slog.Int("not_loaded", len(resp.ClassesNotLoaded)),
		)
	}
	c.JSON(http.StatusOK, resp)
}

func queryErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnsupportedQuery):
		return http.StatusBadRequest, "UNSUPPORTED_QUERY"
	case errors.Is(err, ErrMissingTarget):
		return http.StatusBadRequest, "MISSING_PARAMETER"
	case errors.Is(err, ErrFinderClosed):
		return http.StatusConflict, "FINDER_CLOSED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "QUERY_CANCELLED"
	default:
		return http.StatusInternalServerError, "QUERY_FAILED"
	}
}

// HandleSaveSnapshot handles POST /v1/scan/snapshot.
//
// Request Body:
//
//	SaveSnapshotRequest (finder_id optional, label optional)
//
// Response:
//
//	200 OK: snapshot.Metadata
//	404 Not Found: Finder not found
//	500 Internal Server Error: Snapshot save failed
//	503 Service Unavailable: Snapshot manager not configured
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSaveSnapshot")

	if !h.svc.SnapshotsEnabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrSnapshotsDisabled.Error(),
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}

	var req SaveSnapshotRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid request body",
				Code:    "INVALID_REQUEST",
				Details: err.Error(),
			})
			return
		}
	}

	meta, err := h.svc.SaveSnapshot(c.Request.Context(), req.FinderID, req.Label)
	if err != nil {
		if errors.Is(err, ErrFinderNotInitialized) || errors.Is(err, ErrFinderExpired) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "finder not found",
				Code:  "FINDER_NOT_FOUND",
			})
			return
		}
		logger.Error("snapshot save failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to save snapshot: " + err.Error(),
			Code:  "SNAPSHOT_SAVE_FAILED",
		})
		return
	}

	logger.Info("snapshot saved",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.Int("class_count", meta.ClassCount),
	)
	c.JSON(http.StatusOK, meta)
}

// HandleListSnapshots handles GET /v1/scan/snapshots.
//
// Query Parameters:
//
//	archive_path: Optional filter by archive path
//	limit: Maximum results, default 100
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSnapshots")

	if !h.svc.SnapshotsEnabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrSnapshotsDisabled.Error(),
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	list, err := h.svc.ListSnapshots(c.Request.Context(), c.Query("archive_path"), limit)
	if err != nil {
		logger.Error("snapshot list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list snapshots: " + err.Error(),
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: list, Count: len(list)})
}

// HandleDiffSnapshots handles GET /v1/scan/snapshots/diff?base=X&target=Y.
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDiffSnapshots")

	if !h.svc.SnapshotsEnabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrSnapshotsDisabled.Error(),
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return
	}

	baseID, targetID := c.Query("base"), c.Query("target")
	if baseID == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "base and target are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	diff, err := h.svc.DiffSnapshots(c.Request.Context(), baseID, targetID)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "SNAPSHOT_NOT_FOUND",
			})
			return
		}
		logger.Error("snapshot diff failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to diff snapshots: " + err.Error(),
			Code:  "SNAPSHOT_DIFF_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, diff)
}

// HandleHealth handles GET /v1/scan/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     ServiceVersion,
		FinderCount: h.svc.FinderCount(),
		Snapshots:   h.svc.SnapshotsEnabled(),
	})
}

// resolveFinder resolves a CachedFinder from query params (finder_id or
// archive_path), falling back to the newest cached finder. Writes the
// error response on failure.
func (h *Handlers) resolveFinder(c *gin.Context) (*CachedFinder, string, error) {
	finderID := c.Query("finder_id")
	if finderID == "" {
		if archivePath := c.Query("archive_path"); archivePath != "" {
			finderID = h.svc.generateFinderID(filepath.Clean(archivePath))
		}
	}

	if finderID != "" {
		cached, err := h.svc.GetFinder(finderID)
		if err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "FINDER_NOT_FOUND",
			})
			return nil, "", err
		}
		return cached, finderID, nil
	}

	cached := h.svc.getNewestFinder()
	if cached == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no finders cached",
			Code:  "NO_FINDERS",
		})
		return nil, "", ErrFinderNotInitialized
	}
	return cached, h.svc.generateFinderID(cached.ArchivePath), nil
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID,
// echoing it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
