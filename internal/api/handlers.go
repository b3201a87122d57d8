package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nullvoid-dev/nullvoid/internal/orchestrator"
)

// ScanHandler serves scan requests against an in-process orchestrator.
type ScanHandler struct {
	engine *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewScanHandler creates a ScanHandler.
func NewScanHandler(engine *orchestrator.Orchestrator, logger *slog.Logger) *ScanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanHandler{engine: engine, logger: logger.With("component", "api")}
}

// scanRequest is the POST /api/v1/scan body: either a local path or a
// package name+version.
type scanRequest struct {
	Path    string `json:"path"`
	Package string `json:"package"`
	Version string `json:"version"`
}

// Scan runs a scan synchronously and returns the full report.
func (h *ScanHandler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	switch {
	case req.Path != "":
		report, err := h.engine.ScanPath(c.Request.Context(), req.Path)
		if err != nil {
			h.logger.Error("scan failed", "path", req.Path, "error", err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "scan_failed", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	case req.Package != "" && req.Version != "":
		report, err := h.engine.ScanPackage(c.Request.Context(), req.Package, req.Version)
		if err != nil {
			h.logger.Error("scan failed", "package", req.Package, "error", err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "scan_failed", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "provide either path, or package and version",
		})
	}
}

// Health reports service liveness.
func (h *ScanHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
