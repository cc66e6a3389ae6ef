package v1

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dermatrack/api/config"
	"github.com/dermatrack/api/internal/handler/middleware"
	"github.com/dermatrack/api/pkg/auth"
	"github.com/dermatrack/api/pkg/metrics"
)

// NewRouter wires middleware and routes into a gin engine. Mutating and
// viewing patient routes all sit behind RequireAuth; the list itself is
// filtered to the caller's own records inside the service.
func NewRouter(
	cfg *config.Config,
	log *zap.Logger,
	collector *metrics.Collector,
	jwtManager *auth.JWTManager,
	authHandler *AuthHandler,
	patientHandler *PatientHandler,
) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("panic recovered", zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "something went wrong"})
	}))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Metrics(collector))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		AllowCredentials: true,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "page not found"})
	})

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": cfg.App.Name,
			"version": cfg.App.Version,
		})
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	// Locally stored images are served straight from the upload directory so
	// their references resolve as URLs.
	if cfg.Storage.Backend == config.StorageLocal {
		r.Static("/uploads", cfg.Storage.UploadDir)
	}

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
		}

		patients := api.Group("/patients")
		patients.Use(middleware.RequireAuth(jwtManager, cfg.JWT.CookieName))
		{
			patients.GET("", patientHandler.List)
			patients.POST("", patientHandler.Create)
			patients.GET("/:id", patientHandler.Get)
			patients.PUT("/:id", patientHandler.Update)
			patients.DELETE("/:id", patientHandler.Delete)
			patients.POST("/:id/diagnose", patientHandler.Diagnose)
		}
	}

	return r
}
