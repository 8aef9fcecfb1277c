// Package httpapi exposes export, import and legacy-import over HTTP. The
// legacy import streams progress as server-sent events.
package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/container"
	"github.com/rb-x/pwnflow/internal/export"
	"github.com/rb-x/pwnflow/internal/graph"
	"github.com/rb-x/pwnflow/internal/importer"
	"github.com/rb-x/pwnflow/internal/orchestrator"
	"github.com/rb-x/pwnflow/internal/seal"
)

var eventJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ownerHeader carries the authenticated tenant identity, injected by the
// auth layer in front of this service.
const ownerHeader = "X-Owner-ID"

// maxUploadBytes bounds container and legacy document uploads.
const maxUploadBytes = 64 << 20

// Server wires the core services into a gin router.
type Server struct {
	export  *export.Service
	imports *importer.Service
	orch    *orchestrator.Orchestrator
	log     *zap.Logger
}

func NewServer(exportSvc *export.Service, importSvc *importer.Service, orch *orchestrator.Orchestrator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		export:  exportSvc,
		imports: importSvc,
		orch:    orch,
		log:     logger.Named("httpapi"),
	}
}

// Router builds the HTTP surface.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.POST("/projects/:id/export", s.handleExportProject)
		v1.POST("/templates/:id/export", s.handleExportTemplate)
		v1.POST("/import/preview", s.handleImportPreview)
		v1.POST("/import", s.handleImport)
		v1.POST("/legacy/import", s.handleLegacyImport)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type exportRequest struct {
	Encryption       schemas.EncryptionMethod `json:"encryption"`
	Password         string                   `json:"password"`
	IncludeVariables *bool                    `json:"include_variables"`
	IncludeScope     *bool                    `json:"include_scope"`
}

func (r *exportRequest) options() schemas.ExportOptions {
	opts := schemas.DefaultExportOptions()
	if r.IncludeVariables != nil {
		opts.IncludeVariables = *r.IncludeVariables
	}
	if r.IncludeScope != nil {
		opts.IncludeScope = *r.IncludeScope
	}
	return opts
}

func (s *Server) handleExportProject(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if req.Encryption == "" {
		req.Encryption = schemas.EncryptionNone
	}

	data, generated, err := s.export.ExportProject(c.Request.Context(), owner, c.Param("id"), req.options(), req.Encryption, req.Password)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if generated != "" {
		c.Header("X-Generated-Password", generated)
	}
	c.Header("Content-Disposition", `attachment; filename="project.pwnflow"`)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleExportTemplate(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if req.Encryption == "" {
		req.Encryption = schemas.EncryptionNone
	}

	data, generated, err := s.export.ExportTemplate(c.Request.Context(), owner, c.Param("id"), req.Encryption, req.Password)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if generated != "" {
		c.Header("X-Generated-Password", generated)
	}
	c.Header("Content-Disposition", `attachment; filename="template.pwnflow"`)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleImportPreview(c *gin.Context) {
	data, ok := s.uploadedContainer(c)
	if !ok {
		return
	}
	preview, err := s.imports.Preview(data, c.PostForm("password"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (s *Server) handleImport(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	data, ok := s.uploadedContainer(c)
	if !ok {
		return
	}
	mode := schemas.ImportMode(c.PostForm("mode"))
	if mode == "" {
		mode = schemas.ImportModeNew
	}

	result, err := s.imports.Import(c.Request.Context(), data, c.PostForm("password"), mode, owner)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusCreated
	if len(result.Errors) > 0 {
		// Partial success: the root exists but some entities failed.
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

// handleLegacyImport streams progress events for a legacy document import.
// Client disconnect cancels the background unit of work via the request
// context.
func (s *Server) handleLegacyImport(c *gin.Context) {
	owner, ok := s.owner(c)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty or unreadable request body"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	events := s.orch.Run(c.Request.Context(), raw, owner)
	for ev := range events {
		payload, err := eventJSON.Marshal(ev)
		if err != nil {
			s.log.Error("Failed to serialize progress event", zap.Error(err))
			continue
		}
		if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
			// Consumer is gone; the request context cancels the import.
			return
		}
		c.Writer.Flush()
	}
}

// owner extracts the tenant identity or fails the request.
func (s *Server) owner(c *gin.Context) (string, bool) {
	owner := c.GetHeader(ownerHeader)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + ownerHeader + " header"})
		return "", false
	}
	return owner, true
}

// uploadedContainer reads the container either from a multipart "file" field
// or from the raw request body.
func (s *Server) uploadedContainer(c *gin.Context) ([]byte, bool) {
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
			return nil, false
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
			return nil, false
		}
		return data, true
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing container upload"})
		return nil, false
	}
	return data, true
}

// writeError maps core errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, container.ErrPasswordRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": container.ErrPasswordRequired.Error()})
	case errors.Is(err, seal.ErrAuthentication):
		c.JSON(http.StatusUnauthorized, gin.H{"error": seal.ErrAuthentication.Error()})
	case errors.Is(err, container.ErrMissingPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": container.ErrMissingPassword.Error()})
	case errors.Is(err, container.ErrInvalidContainer):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, importer.ErrNotImplemented):
		c.JSON(http.StatusNotImplemented, gin.H{"error": importer.ErrNotImplemented.Error()})
	default:
		s.log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
