package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"andromirror/models"
	"andromirror/service"

	"github.com/gin-gonic/gin"
)

func Health(c *gin.Context, d Deps) {
	upstream := false
	if d.Upstream != nil {
		upstream = d.Upstream()
	}
	viewers := 0
	if d.Hub != nil {
		viewers = d.Hub.ClientCount()
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":   "ok",
		"upstream": upstream,
		"viewers":  viewers,
	}))
}

func GetDevices(c *gin.Context, dm *service.DeviceManager) {
	c.JSON(http.StatusOK, models.SuccessResponse(dm.GetAllDevices()))
}

func GetDevice(c *gin.Context, dm *service.DeviceManager) {
	device, ok := dm.GetDevice(c.Param("serial"))
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse(service.ErrDeviceNotFound.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(device))
}

func GetMirroringStatus(c *gin.Context, mm *service.MirroringManager) {
	status, err := mm.Status(c.Param("serial"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(status))
}

func ConfigureMirroring(c *gin.Context, mm *service.MirroringManager) {
	var setup models.SetupMessage
	if err := c.ShouldBindJSON(&setup); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("Invalid request body"))
		return
	}

	view, err := mm.Select(c.Param("serial"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if fields, err := view.Configure(setup); err != nil {
		if fields != nil {
			c.JSON(http.StatusBadRequest, models.ValidationErrorResponse(err.Error(), fields))
			return
		}
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.DataResponse("Mirroring configured", view.Status()))
}

// ConnectMirroring accepts an optional setup body applied before connecting
func ConnectMirroring(c *gin.Context, mm *service.MirroringManager) {
	var setup *models.SetupMessage
	if c.Request.ContentLength != 0 {
		var body models.SetupMessage
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse("Invalid request body"))
			return
		} else if err == nil {
			setup = &body
		}
	}

	view, err := mm.Select(c.Param("serial"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if setup != nil {
		if fields, err := view.Configure(*setup); err != nil {
			if fields != nil {
				c.JSON(http.StatusBadRequest, models.ValidationErrorResponse(err.Error(), fields))
				return
			}
			writeServiceError(c, err)
			return
		}
	}
	if err := view.Connect(); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.DataResponse("Connecting", view.Status()))
}

func DisconnectMirroring(c *gin.Context, mm *service.MirroringManager) {
	view, ok := mm.Lookup(c.Param("serial"))
	if !ok {
		c.JSON(http.StatusOK, models.MessageResponse("Not connected"))
		return
	}
	view.Disconnect()
	c.JSON(http.StatusOK, models.DataResponse("Disconnected", view.Status()))
}

// ToggleFullscreen asks the device's viewers to enter or exit fullscreen
func ToggleFullscreen(c *gin.Context, mm *service.MirroringManager, hub *WebSocketHub) {
	serial := c.Param("serial")
	view, ok := mm.Lookup(serial)
	if !ok {
		c.JSON(http.StatusConflict, models.ErrorResponse("Device is not selected"))
		return
	}
	request := view.ToggleFullscreen()
	hub.BroadcastToDevice(serial, models.ViewerFullscreenMessage{
		Type:    models.ViewerFullscreen,
		Request: string(request),
	})
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"request": request}))
}

type keyRequest struct {
	Key models.KeyCommand `json:"key" binding:"required"`
}

func SendKey(c *gin.Context, mm *service.MirroringManager) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("Invalid request body"))
		return
	}
	view, ok := mm.Lookup(c.Param("serial"))
	if !ok {
		c.JSON(http.StatusConflict, models.ErrorResponse(service.ErrInputDisabled.Error()))
		return
	}
	if err := view.SendKey(req.Key); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Key sent"))
}

// GetMonitoringLogs only has entries for the used device
func GetMonitoringLogs(c *gin.Context, store *service.MonitoringLogStore, follower *service.MonitoringLogFollower) {
	logs := []models.MonitoringLog{}
	if follower != nil && follower.Serial() == c.Param("serial") {
		logs = append(logs, store.Logs()...)
	}
	c.JSON(http.StatusOK, models.SuccessResponse(logs))
}

func GetSessions(c *gin.Context, store *service.SessionStore) {
	if store == nil {
		c.JSON(http.StatusOK, models.SuccessResponse([]models.MirroringSession{}))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := store.Recent(c.Query("serial"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(sessions))
}

func writeServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidSetup), errors.Is(err, service.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrCoolingDown),
		errors.Is(err, service.ErrAlreadyConnected),
		errors.Is(err, service.ErrDeviceOffline),
		errors.Is(err, service.ErrInputDisabled),
		errors.Is(err, service.ErrViewClosed):
		status = http.StatusConflict
	}
	c.JSON(status, models.ErrorResponse(err.Error()))
}
