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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScan/services/scan/snapshot"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	RegisterMetrics(router)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func initFinder(t *testing.T, router http.Handler, dir string) InitResponse {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/scan/init", InitRequest{ArchivePath: dir})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[InitResponse](t, w)
}

func TestHandleInit(t *testing.T) {
	svc := newTestService(t, nil)
	router := newTestRouter(svc)

	w := doJSON(t, router, http.MethodPost, "/v1/scan/init", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodPost, "/v1/scan/init", InitRequest{ArchivePath: "classes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PATH", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodPost, "/v1/scan/init", InitRequest{ArchivePath: newClassDir(t), LinkMode: "eager"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := initFinder(t, router, newClassDir(t))
	assert.NotEmpty(t, resp.FinderID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = doJSON(t, router, http.MethodGet, "/v1/scan/finders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListFindersResponse](t, w)
	require.Len(t, list.Finders, 1)
	assert.Equal(t, resp.FinderID, list.Finders[0].FinderID)
}

func TestHandleQueries(t *testing.T) {
	svc := newTestService(t, nil)
	router := newTestRouter(svc)

	w := doJSON(t, router, http.MethodGet, "/v1/scan/annotated/classes?annotation="+component, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NO_FINDERS", decode[ErrorResponse](t, w).Code)

	dir := newClassDir(t)
	initResp := initFinder(t, router, dir)

	tests := []struct {
		name      string
		target    string
		wantCount int
		wantFirst string
	}{
		{"annotated classes", "/v1/scan/annotated/classes?annotation=" + component, 1, "com.acme.Impl"},
		{"annotated methods", "/v1/scan/annotated/methods?annotation=" + handler, 1, ""},
		{"meta classes", "/v1/scan/meta/classes?annotation=" + component, 1, "com.acme.Impl"},
		{"subclasses", "/v1/scan/subclasses?class=com.acme.Base", 1, "com.acme.Impl"},
		{"implementations", "/v1/scan/implementations?interface=com.acme.Service", 1, "com.acme.Impl"},
		{"by archive path", "/v1/scan/annotated/classes?annotation=" + component + "&archive_path=" + url.QueryEscape(dir), 1, "com.acme.Impl"},
		{"by finder id", "/v1/scan/annotated/classes?annotation=" + component + "&finder_id=" + initResp.FinderID, 1, "com.acme.Impl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodGet, tt.target, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			resp := decode[QueryResponse](t, w)
			assert.Equal(t, tt.wantCount, resp.Count)
			assert.Equal(t, initResp.FinderID, resp.FinderID)
			assert.Contains(t, w.Body.String(), `"classes_not_loaded":`)
			if tt.wantFirst != "" {
				require.NotEmpty(t, resp.Classes)
				assert.Equal(t, tt.wantFirst, resp.Classes[0].Name)
			}
		})
	}

	w = doJSON(t, router, http.MethodGet, "/v1/scan/annotated/classes?annotation="+component, nil)
	assert.Equal(t, []string{"com.acme.Orphan"}, decode[QueryResponse](t, w).ClassesNotLoaded)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/annotated/widgets?annotation="+component, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNSUPPORTED_QUERY", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/meta/parameters?annotation="+component, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/subclasses", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_PARAMETER", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/package?package=com&recursive=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Positive(t, decode[QueryResponse](t, w).Count)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/package?package=com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[QueryResponse](t, w).Count)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/annotated/classes?annotation=x&finder_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleInvalidate(t *testing.T) {
	svc := newTestService(t, nil)
	router := newTestRouter(svc)
	resp := initFinder(t, router, newClassDir(t))

	w := doJSON(t, router, http.MethodDelete, "/v1/scan/finders/"+resp.FinderID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[InvalidateResponse](t, w).Removed)

	w = doJSON(t, router, http.MethodDelete, "/v1/scan/finders/"+resp.FinderID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSnapshots(t *testing.T) {
	disabled := newTestRouter(newTestService(t, nil))
	w := doJSON(t, disabled, http.MethodPost, "/v1/scan/snapshot", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = doJSON(t, disabled, http.MethodGet, "/v1/scan/snapshots", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	svc := newTestService(t, newSnapshotManager(t))
	router := newTestRouter(svc)

	w = doJSON(t, router, http.MethodPost, "/v1/scan/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	dir := newClassDir(t)
	initFinder(t, router, dir)

	w = doJSON(t, router, http.MethodPost, "/v1/scan/snapshot", SaveSnapshotRequest{Label: "nightly"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	meta := decode[snapshot.Metadata](t, w)
	assert.Equal(t, "nightly", meta.Label)

	w = doJSON(t, router, http.MethodPost, "/v1/scan/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code, "empty body selects newest finder")
	second := decode[snapshot.Metadata](t, w)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/snapshots/diff?base="+meta.SnapshotID+"&target="+second.SnapshotID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	diff := decode[snapshot.Diff](t, w)
	assert.Zero(t, diff.Summary.TotalChanges)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/snapshots/diff?base=nope&target="+second.SnapshotID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, router, http.MethodGet, "/v1/scan/snapshots/diff?base="+meta.SnapshotID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/scan/snapshots?archive_path="+url.QueryEscape(dir)+"&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListSnapshotsResponse](t, w)
	assert.Equal(t, 1, list.Count)
}

func TestHandleHealthAndMetrics(t *testing.T) {
	svc := newTestService(t, nil)
	router := newTestRouter(svc)

	w := doJSON(t, router, http.MethodGet, "/v1/scan/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, ServiceVersion, health.Version)
	assert.False(t, health.Snapshots)

	initFinder(t, router, newClassDir(t))
	doJSON(t, router, http.MethodGet, "/v1/scan/annotated/classes?annotation="+component, nil)

	w = doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scan_classes_not_loaded_total")
}

func TestRequestIDEchoed(t *testing.T) {
	router := newTestRouter(newTestService(t, nil))
	req := httptest.NewRequest(http.MethodGet, "/v1/scan/subclasses?class=x", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
