package router

import (
	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/pterodactyl/originfs/config"
	"github.com/pterodactyl/originfs/metrics"
	"github.com/pterodactyl/originfs/router/middleware"
	"github.com/pterodactyl/originfs/tree"
)

// Configure configures the routing infrastructure for the explorer API.
func Configure(t *tree.Tree) *gin.Engine {
	gin.SetMode("release")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.AttachRequestID(), middleware.CaptureErrors(), middleware.TrackRequests())
	// @see https://github.com/pterodactyl/panel/issues/3724
	router.HandleMethodNotAllowed = true
	router.Use(gin.LoggerWithFormatter(func(params gin.LogFormatterParams) string {
		log.WithFields(log.Fields{
			"client_ip":  params.ClientIP,
			"status":     params.StatusCode,
			"latency":    params.Latency,
			"request_id": params.Keys["request_id"],
		}).Debugf("%s %s", params.MethodColor()+params.Method+params.ResetColor(), params.Path)
		return ""
	}))

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.Use(middleware.AttachTree(t))
	{
		api.GET("/system", getSystemInformation)
		api.GET("/tree", getTree)

		files := api.Group("/files")
		{
			files.GET("/contents", getFileContents)
			files.POST("/write", postWriteFile)
			files.POST("/create-directory", postCreateDirectory)
			files.POST("/copy", postCopy)
			files.POST("/move", postMove)
			files.POST("/delete", postDelete)
		}
	}

	return router
}

// uploadLimit returns the maximum accepted request body for file writes.
func uploadLimit() int64 {
	return config.Get().Api.UploadLimit * 1024 * 1024
}
