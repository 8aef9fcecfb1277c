package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/config"
	"github.com/rb-x/pwnflow/internal/container"
	"github.com/rb-x/pwnflow/internal/export"
	"github.com/rb-x/pwnflow/internal/graph"
	"github.com/rb-x/pwnflow/internal/importer"
	"github.com/rb-x/pwnflow/internal/legacy"
	"github.com/rb-x/pwnflow/internal/orchestrator"
	"github.com/rb-x/pwnflow/internal/seal"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type apiTestFixture struct {
	Store  *graph.Memory
	Router *gin.Engine
}

func setupTest(t *testing.T) *apiTestFixture {
	t.Helper()

	store := graph.NewMemory(nil)
	sealer := seal.New(seal.MinIterations, 24)
	codec := container.New(sealer, "test", nil)
	exportSvc := export.NewService(export.NewAssembler(store, nil), codec, nil)
	importSvc := importer.NewService(store, codec, nil)
	orch := orchestrator.New(store, legacy.New(nil), config.ImporterConfig{
		ProgressQueueSize: 64,
		HeartbeatInterval: time.Second,
	}, nil)

	return &apiTestFixture{
		Store:  store,
		Router: NewServer(exportSvc, importSvc, orch, nil).Router(),
	}
}

func (f *apiTestFixture) seedProject(t *testing.T, owner string) string {
	t.Helper()
	ctx := context.Background()

	rootID, err := f.Store.CreateRoot(ctx, owner, graph.KindProject, "acme", map[string]interface{}{
		"description": "external assessment",
	})
	require.NoError(t, err)
	n1, err := f.Store.CreateChild(ctx, rootID, graph.RelHasNode, graph.KindNode, "recon", nil)
	require.NoError(t, err)
	n2, err := f.Store.CreateChild(ctx, rootID, graph.RelHasNode, graph.KindNode, "exploit", nil)
	require.NoError(t, err)
	require.NoError(t, f.Store.Link(ctx, n1, n2, graph.RelLinkedTo))
	return rootID
}

func (f *apiTestFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.Router.ServeHTTP(rec, req)
	return rec
}

func exportProject(t *testing.T, f *apiTestFixture, owner, projectID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+projectID+"/export", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ownerHeader, owner)
	return f.do(req)
}

func multipartUpload(t *testing.T, container []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "upload.pwnflow")
	require.NoError(t, err)
	_, err = part.Write(container)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestExportProjectEndpoint(t *testing.T) {
	f := setupTest(t)
	projectID := f.seedProject(t, "user-1")

	t.Run("plaintext export", func(t *testing.T) {
		rec := exportProject(t, f, "user-1", projectID, `{"encryption": "none"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Body.Bytes())
	})

	t.Run("generated encryption returns the password once", func(t *testing.T) {
		rec := exportProject(t, f, "user-1", projectID, `{"encryption": "generated"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, rec.Header().Get("X-Generated-Password"), 24)
	})

	t.Run("missing owner header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+projectID+"/export", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := f.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("other tenant", func(t *testing.T) {
		rec := exportProject(t, f, "user-2", projectID, `{}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("password mode without password", func(t *testing.T) {
		rec := exportProject(t, f, "user-1", projectID, `{"encryption": "password"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestImportEndpoints(t *testing.T) {
	f := setupTest(t)
	projectID := f.seedProject(t, "user-1")

	rec := exportProject(t, f, "user-1", projectID, `{"encryption": "password", "password": "correct-horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	containerBytes := rec.Body.Bytes()

	t.Run("preview without password", func(t *testing.T) {
		body, contentType := multipartUpload(t, containerBytes, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import/preview", body)
		req.Header.Set("Content-Type", contentType)
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)

		var preview schemas.ImportPreview
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
		assert.Equal(t, schemas.KindProject, preview.Type)
		assert.Equal(t, "acme", preview.Name)
		assert.True(t, preview.IsEncrypted)
		assert.Empty(t, preview.Description)
		assert.Equal(t, 2, preview.Counts.Nodes)
	})

	t.Run("preview with password reveals the description", func(t *testing.T) {
		body, contentType := multipartUpload(t, containerBytes, map[string]string{
			"password": "correct-horse",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import/preview", body)
		req.Header.Set("Content-Type", contentType)
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)

		var preview schemas.ImportPreview
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
		assert.Equal(t, "external assessment", preview.Description)
	})

	t.Run("preview with wrong password", func(t *testing.T) {
		body, contentType := multipartUpload(t, containerBytes, map[string]string{
			"password": "wrong",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import/preview", body)
		req.Header.Set("Content-Type", contentType)
		rec := f.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("preview of garbage", func(t *testing.T) {
		body, contentType := multipartUpload(t, []byte("not a container"), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import/preview", body)
		req.Header.Set("Content-Type", contentType)
		rec := f.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("import with correct password", func(t *testing.T) {
		body, contentType := multipartUpload(t, containerBytes, map[string]string{
			"password": "correct-horse",
			"mode":     "new",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(ownerHeader, "user-2")
		rec := f.do(req)
		require.Equal(t, http.StatusCreated, rec.Code)

		var result schemas.ImportResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 2, result.ImportedNodes)
		assert.Equal(t, 1, result.ImportedEdges)

		root, err := f.Store.FindOwnedRoot(context.Background(), "user-2", graph.KindProject, result.ProjectID)
		require.NoError(t, err)
		assert.Equal(t, "acme (Imported)", root.Label)
	})

	t.Run("import with wrong password", func(t *testing.T) {
		body, contentType := multipartUpload(t, containerBytes, map[string]string{
			"password": "wrong",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(ownerHeader, "user-2")
		rec := f.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("import without password", func(t *testing.T) {
		body, contentType := multipartUpload(t, containerBytes, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(ownerHeader, "user-2")
		rec := f.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("merge mode is not implemented", func(t *testing.T) {
		body, contentType := multipartUpload(t, containerBytes, map[string]string{
			"password": "correct-horse",
			"mode":     "merge",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set(ownerHeader, "user-2")
		rec := f.do(req)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}

func TestLegacyImportStream(t *testing.T) {
	f := setupTest(t)

	doc := `{
		"name": "old project",
		"nodes": [
			{"id": "n1", "data": {"name": "one"}},
			{"id": "n2", "data": {"name": "two"}}
		],
		"edges": [{"source": "n1", "target": "n2"}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/legacy/import", strings.NewReader(doc))
	req.Header.Set(ownerHeader, "user-1")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	var events []schemas.ProgressEvent
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev schemas.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	require.Equal(t, schemas.EventComplete, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, 2, last.Result.ImportedNodes)
	assert.Equal(t, 1, last.Result.ImportedEdges)

	root, err := f.Store.FindOwnedRoot(context.Background(), "user-1", graph.KindProject, last.Result.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "old project (Imported)", root.Label)
}

func TestLegacyImportRejectsEmptyBody(t *testing.T) {
	f := setupTest(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/legacy/import", strings.NewReader(""))
	req.Header.Set(ownerHeader, "user-1")
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := setupTest(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
