package transport

import (
	"net/http"
	"time"

	"github.com/ds124wfegd/cca-waitlist/internal/transport/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecks проверки зависимостей для /health, ключ имя зависимости
type HealthChecks map[string]func() error

func InitRoutes(waitlistHandler *WaitlistHandler, requestTimeout int, checks HealthChecks) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(requestTimeout))

	api := router.Group("/api/v1", middleware.RequireActor())
	{
		events := api.Group("/events/:id")
		{
			events.POST("/waitlist", waitlistHandler.Join)
			events.DELETE("/waitlist", waitlistHandler.Cancel)
			events.GET("/waitlist", waitlistHandler.List)
			events.GET("/waitlist/me", waitlistHandler.MyStatus)
			events.POST("/waitlist/accept", waitlistHandler.Accept)
			events.POST("/unsign", waitlistHandler.Unsign)
		}

		// операции персонала CCA
		staff := api.Group("/waitlist/:waitlist_id")
		{
			staff.POST("/promote", waitlistHandler.Promote)
			staff.POST("/revoke", waitlistHandler.Revoke)
			staff.POST("/clear-expired", waitlistHandler.ClearExpired)
		}
	}

	router.GET("/health", health(checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func health(checks HealthChecks) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		deps := make(map[string]string, len(checks))

		for name, check := range checks {
			if err := check(); err != nil {
				deps[name] = err.Error()
				status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		c.JSON(code, gin.H{
			"status": status,
			"checks": deps,
			"time":   time.Now().UTC(),
		})
	}
}
