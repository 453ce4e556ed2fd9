package http

import (
	"fmt"
	"net/http"
	"time"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"
	apperrors "relaycast/pkg/errors"

	"github.com/gin-gonic/gin"
)

type StreamHandler struct {
	commands ports.CommandService
	stats    ports.StatsService
}

func NewStreamHandler(commands ports.CommandService, stats ports.StatsService) *StreamHandler {
	return &StreamHandler{
		commands: commands,
		stats:    stats,
	}
}

func (h *StreamHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/streams", h.ListStreams)
		api.POST("/streams", h.CreateStream)
		api.PATCH("/streams/:id/toggle", h.ToggleStream)
		api.DELETE("/streams/:id", h.DeleteStream)

		api.GET("/scheduled", h.ListScheduled)
		api.POST("/scheduled", h.CreateScheduled)
		api.POST("/scheduled/:id/start", h.StartScheduled)
		api.DELETE("/scheduled/:id", h.DeleteScheduled)

		api.GET("/server-stats", h.ServerStats)
	}
}

// streamRequest mirrors the dashboard payload. The dashboard sends "other"
// for user-provided RTMP endpoints.
type streamRequest struct {
	Source        string `json:"source" binding:"required"`
	File          string `json:"file"`
	Platform      string `json:"platform" binding:"required"`
	StreamKey     string `json:"youtube_key" binding:"required"`
	CustomRTMPURL string `json:"custom_rtmp_url"`
}

func (r *streamRequest) toCommand() ports.StartCommand {
	platform := domain.Platform(r.Platform)
	if r.Platform == "other" {
		platform = domain.PlatformCustom
	}
	return ports.StartCommand{
		SourceKind: domain.SourceKind(r.Source),
		SourceRef:  r.File,
		Destination: domain.Destination{
			Platform:       platform,
			Credential:     r.StreamKey,
			CustomEndpoint: r.CustomRTMPURL,
		},
	}
}

type scheduledRequest struct {
	streamRequest
	ScheduleTime    string  `json:"schedule_time" binding:"required"`
	ScheduleEndTime *string `json:"schedule_end_time"`
}

// Browser datetime-local inputs carry no seconds and no zone.
var scheduleTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseScheduleTime accepts RFC3339 and the datetime-local form the dashboard
// posts verbatim; zoneless values are taken as server-local time.
func parseScheduleTime(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	for _, layout := range scheduleTimeLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

func (h *StreamHandler) ListStreams(c *gin.Context) {
	streams, err := h.commands.ListStreams(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, streams)
}

func (h *StreamHandler) CreateStream(c *gin.Context) {
	var req streamRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, err := h.commands.StartStream(c.Request.Context(), req.toCommand())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"stream": stream})
}

func (h *StreamHandler) ToggleStream(c *gin.Context) {
	id := domain.StreamID(c.Param("id"))

	stream, err := h.commands.ToggleStream(c.Request.Context(), id)
	if err != nil {
		// The flip may have committed even though the relay call failed;
		// report the stream state alongside the error.
		if appErr := apperrors.GetAppError(err); appErr != nil && appErr.Code == apperrors.ErrCodeTransmitter && stream != nil {
			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"stream":  stream,
			})
			return
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stream": stream})
}

func (h *StreamHandler) DeleteStream(c *gin.Context) {
	id := domain.StreamID(c.Param("id"))

	if err := h.commands.DeleteStream(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *StreamHandler) ListScheduled(c *gin.Context) {
	scheduled, err := h.commands.ListScheduled(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, scheduled)
}

func (h *StreamHandler) CreateScheduled(c *gin.Context) {
	var req scheduledRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := parseScheduleTime(req.ScheduleTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var end *time.Time
	if req.ScheduleEndTime != nil && *req.ScheduleEndTime != "" {
		ts, err := parseScheduleTime(*req.ScheduleEndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		end = &ts
	}

	scheduled, err := h.commands.ScheduleStream(c.Request.Context(), ports.ScheduleCommand{
		StartCommand: req.toCommand(),
		Start:        start,
		End:          end,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"scheduled_stream": scheduled})
}

// StartScheduled promotes a scheduled stream immediately, ahead of its
// start time.
func (h *StreamHandler) StartScheduled(c *gin.Context) {
	id := domain.StreamID(c.Param("id"))

	stream, err := h.commands.PromoteScheduled(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stream": stream})
}

func (h *StreamHandler) DeleteScheduled(c *gin.Context) {
	id := domain.StreamID(c.Param("id"))

	if err := h.commands.DeleteScheduled(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *StreamHandler) ServerStats(c *gin.Context) {
	stats, err := h.stats.Collect(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
