package api

import (
	"andromirror/service"

	"github.com/gin-gonic/gin"
)

// Deps are the services behind the local viewer surface
type Deps struct {
	Devices     *service.DeviceManager
	Mirroring   *service.MirroringManager
	Logs        *service.MonitoringLogStore
	LogFollower *service.MonitoringLogFollower
	Sessions    *service.SessionStore
	Hub         *WebSocketHub
	// Upstream reports whether the inventory stream is open
	Upstream func() bool
}

func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(CORSMiddleware())

	router.GET("/health", func(c *gin.Context) {
		Health(c, d)
	})

	api := router.Group("/api")
	{
		devices := api.Group("/devices")
		{
			devices.GET("", func(c *gin.Context) {
				GetDevices(c, d.Devices)
			})
			devices.GET("/:serial", func(c *gin.Context) {
				GetDevice(c, d.Devices)
			})

			mirroring := devices.Group("/:serial/mirroring")
			{
				mirroring.GET("", func(c *gin.Context) {
					GetMirroringStatus(c, d.Mirroring)
				})
				mirroring.POST("/configure", func(c *gin.Context) {
					ConfigureMirroring(c, d.Mirroring)
				})
				mirroring.POST("/connect", func(c *gin.Context) {
					ConnectMirroring(c, d.Mirroring)
				})
				mirroring.POST("/disconnect", func(c *gin.Context) {
					DisconnectMirroring(c, d.Mirroring)
				})
				mirroring.POST("/fullscreen", func(c *gin.Context) {
					ToggleFullscreen(c, d.Mirroring, d.Hub)
				})
				mirroring.POST("/key", func(c *gin.Context) {
					SendKey(c, d.Mirroring)
				})
			}

			devices.GET("/:serial/monitoring/logs", func(c *gin.Context) {
				GetMonitoringLogs(c, d.Logs, d.LogFollower)
			})
		}

		api.GET("/sessions", func(c *gin.Context) {
			GetSessions(c, d.Sessions)
		})
	}

	router.GET("/event/devices", func(c *gin.Context) {
		StreamDevices(c, d.Devices)
	})

	router.GET("/ws/devices/:serial/view", func(c *gin.Context) {
		HandleViewer(d.Hub, d.Mirroring, c)
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
