package http

import (
	"net/http"

	"relaycast/internal/core/ports"

	"github.com/gin-gonic/gin"
)

type FileHandler struct {
	downloads ports.DownloadService
}

func NewFileHandler(downloads ports.DownloadService) *FileHandler {
	return &FileHandler{downloads: downloads}
}

func (h *FileHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/files", h.ListFiles)
		api.POST("/download", h.Download)
		api.DELETE("/files/:name", h.DeleteFile)
	}
}

func (h *FileHandler) ListFiles(c *gin.Context) {
	files, err := h.downloads.ListFiles(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files})
}

type downloadRequest struct {
	DriveURL   string `json:"drive_url" binding:"required"`
	CustomName string `json:"custom_name"`
}

// Download resolves the share link, reserves a local name and responds
// immediately; the transfer itself runs in the background and its outcome is
// reported over the realtime channel.
func (h *FileHandler) Download(c *gin.Context) {
	var req downloadRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name, err := h.downloads.Download(c.Request.Context(), req.DriveURL, req.CustomName)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "downloading",
		"file_name": name,
	})
}

func (h *FileHandler) DeleteFile(c *gin.Context) {
	if err := h.downloads.DeleteFile(c.Request.Context(), c.Param("name")); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
