package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pterodactyl/originfs/config"
	"github.com/pterodactyl/originfs/router/middleware"
	"github.com/pterodactyl/originfs/system"
)

// Returns information about the host and how the origin is configured.
func getSystemInformation(c *gin.Context) {
	i, err := system.GetSystemInformation()
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}

	cfg := config.Get()
	c.JSON(http.StatusOK, gin.H{
		"system": i,
		"pool": gin.H{
			"capacity": cfg.Pool.Capacity,
			"codec":    cfg.Pool.Codec,
		},
		"tree": gin.H{
			"chunk_size":       cfg.Tree.ChunkSize,
			"copy_concurrency": cfg.Tree.CopyConcurrency,
		},
	})
}
