package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/cuongbtq/tagqueue/internal/api/dto"
	"github.com/cuongbtq/tagqueue/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	// Payload numbers stay json.Number so data is stored exactly as sent.
	binding.EnableDecoderUseNumber = true

	r := gin.New()

	// Middleware
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(deps.Logger))
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", jobHandler.Health)
	r.GET("/ready", jobHandler.Ready)
	r.GET("/stats", jobHandler.Stats)

	jobs := r.Group("/jobs")
	{
		jobs.POST("", jobHandler.CreateJob)
		jobs.GET("", jobHandler.ListJobs)
		jobs.GET("/:id", jobHandler.GetJob)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Endpoint not found"})
	})

	return r
}
