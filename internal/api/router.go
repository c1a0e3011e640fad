package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/enroll"
	"github.com/your-org/attendance/internal/policy"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/internal/verify"
)

type RouterConfig struct {
	Enroll   *enroll.Manager
	Verifier *verify.Pipeline
	Profiles *storage.ProfileRepository
	Events   *storage.EventRepository
	Blobs    storage.BlobStore
	// Policy enables the runtime policy endpoints when set.
	Policy *policy.StoreSource
	Hub    *ws.Hub
	Checks map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Enrollment capture sessions
	enrollH := handlers.NewEnrollmentHandler(cfg.Enroll)
	v1.POST("/enrollments", enrollH.Start)
	v1.GET("/enrollments/:id", enrollH.Status)
	v1.POST("/enrollments/:id/frames", enrollH.PushFrame)
	v1.POST("/enrollments/:id/pause", enrollH.Pause)
	v1.POST("/enrollments/:id/resume", enrollH.Resume)
	v1.POST("/enrollments/:id/reset", enrollH.Reset)
	v1.POST("/enrollments/:id/finalize", enrollH.Finalize)
	v1.DELETE("/enrollments/:id", enrollH.Cancel)

	// Profiles
	profileH := handlers.NewProfileHandler(cfg.Profiles)
	v1.GET("/profiles", profileH.List)
	v1.GET("/profiles/:staffId", profileH.Get)
	v1.POST("/profiles/:staffId/consent", enrollH.ConfirmConsent)
	v1.POST("/profiles/:staffId/reset", enrollH.RequireReset)
	v1.POST("/profiles/:staffId/lock", enrollH.Lock)

	// Verification
	verifyH := handlers.NewVerificationHandler(cfg.Verifier)
	v1.POST("/verifications", verifyH.Verify)

	// Events
	eventH := handlers.NewEventHandler(cfg.Events, cfg.Blobs)
	v1.GET("/events", eventH.List)
	v1.GET("/events/:id", eventH.Get)
	v1.GET("/events/:id/evidence", eventH.Evidence)

	if cfg.Policy != nil {
		policyH := handlers.NewPolicyHandler(cfg.Policy)
		v1.GET("/policy", policyH.Get)
		v1.PUT("/policy", policyH.Put)
	}

	return r
}
