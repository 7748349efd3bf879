package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vitalita/healthassist/internal/docs"
	"github.com/vitalita/healthassist/internal/index"
	"github.com/vitalita/healthassist/internal/jobs"
	"github.com/vitalita/healthassist/internal/vectorstore"
)

// DocumentsHandler serves the uploaded-PDF management endpoints.
type DocumentsHandler struct {
	Library *docs.Library
	Orch    *index.Orchestrator
	Tracker *jobs.Tracker
	Metrics *Metrics
	Logger  *log.Logger
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("/upload", h.upload)
	g.GET("/:filename/download", h.download)
	g.DELETE("/:filename", h.remove)
	g.POST("/rebuild-embeddings", h.rebuild)
	g.GET("/rebuild-status/:job_id", h.rebuildStatus)
}

func (h *DocumentsHandler) list(c echo.Context) error {
	files, err := h.Library.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"documents": files})
}

// upload stores the PDF and indexes it synchronously so the response can
// report the chunk count. Re-uploading a filename replaces its chunks.
func (h *DocumentsHandler) upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	filename, err := h.Library.Save(fileHeader.Filename, src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.Metrics.Uploads.Inc()

	count, err := h.Orch.AddPDFDocument(c.Request().Context(), filename)
	if err != nil {
		h.Logger.Printf("[DOCS] indexing %s: %v", filename, err)
		if vectorstore.IsQuotaError(err) {
			return echo.NewHTTPError(http.StatusServiceUnavailable,
				fmt.Sprintf("%s was stored but not indexed: embedding quota exhausted; rebuild the index once quota is restored", filename))
		}
		return echo.NewHTTPError(http.StatusInternalServerError,
			fmt.Sprintf("%s was stored but indexing failed: %v", filename, err))
	}
	h.Metrics.ChunksStored.Add(float64(count))

	return c.JSON(http.StatusOK, UploadResponse{
		Filename: filename,
		Chunks:   count,
		Message:  fmt.Sprintf("%s uploaded and indexed (%d chunks)", filename, count),
	})
}

func (h *DocumentsHandler) download(c echo.Context) error {
	path, err := h.Library.Path(c.Param("filename"))
	if errors.Is(err, docs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Attachment(path, c.Param("filename"))
}

func (h *DocumentsHandler) remove(c echo.Context) error {
	filename := c.Param("filename")
	if err := h.Library.Delete(filename); err != nil {
		if errors.Is(err, docs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Orch.RemovePDFDocument(c.Request().Context(), filename); err != nil {
		// the file is gone; a rebuild clears any orphaned chunks
		h.Logger.Printf("[DOCS] removing chunks for %s: %v", filename, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": filename + " deleted"})
}

func (h *DocumentsHandler) rebuild(c echo.Context) error {
	jobID, err := h.Orch.StartRebuild()
	if errors.Is(err, index.ErrRebuildInProgress) {
		return echo.NewHTTPError(http.StatusConflict, "a rebuild is already in progress")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, RebuildResponse{
		JobID:   jobID,
		Message: "rebuild started; poll rebuild-status/" + jobID,
	})
}

func (h *DocumentsHandler) rebuildStatus(c echo.Context) error {
	job, err := h.Tracker.Get(c.Param("job_id"))
	if errors.Is(err, jobs.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job id")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}
