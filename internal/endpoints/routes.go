package endpoints

import (
	"time"

	"mediascribe/internal/push"

	"github.com/gin-gonic/gin"
)

// Deps carries the gateways the HTTP handlers depend on.
type Deps struct {
	Records RecordStore
	Queue   JobQueue
	Broker  UploadBroker
	Hub     *push.Hub
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, deps Deps) {
	api := r.Group("/api")
	{
		// Health check endpoints; /healthcheck is the legacy alias
		health := func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":    "ok",
				"service":   "mediascribe",
				"timestamp": time.Now().UnixMilli(),
			})
		}
		api.GET("/health", health)
		api.GET("/healthcheck", health)

		api.POST("/upload-url", HandleUploadURL(deps.Broker, deps.Records))
		api.POST("/process", HandleProcess(deps.Records, deps.Queue))

		api.GET("/records", HandleListRecords(deps.Records))
		api.GET("/records/:id", HandleGetRecord(deps.Records, deps.Broker))
		api.POST("/records/:id/retry", HandleRetry(deps.Records, deps.Queue))

		api.GET("/job-status/:id", HandleJobStatus(deps.Queue, deps.Records))
	}

	if deps.Hub != nil {
		r.GET("/ws/jobs/:id", func(c *gin.Context) {
			deps.Hub.ServeJob(c.Writer, c.Request, c.Param("id"))
		})
	}
}
