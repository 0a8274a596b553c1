package api

import (
	"io"

	"andromirror/service"

	"github.com/gin-gonic/gin"
)

// StreamDevices relays inventory changes to local viewers as SSE. The
// current inventory is replayed first.
func StreamDevices(c *gin.Context, dm *service.DeviceManager) {
	updates, cancel := dm.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.SSEvent("message", "connected")
	for _, device := range dm.GetAllDevices() {
		c.SSEvent("message", device)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case device, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("message", device)
			return true
		}
	})
}
