package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"safemap/config"
	"safemap/controllers"
	"safemap/database"
	"safemap/emergency"
	"safemap/location"
	"safemap/middleware"
	"safemap/repositories"
	"safemap/services"
	"safemap/triggers"
	"safemap/utils"
	"safemap/websocket"
	"safemap/workers"
)

// SetupRoutes builds the object graph behind the API and mounts every route.
// The returned Services are what main shuts down.
func SetupRoutes(cfg *config.Config, db *mongo.Database, rdb *redis.Client, hub *websocket.Hub) (*gin.Engine, *Services, error) {
	router := gin.New()

	repos := initializeRepositories(db, rdb, cfg)

	svcs, err := initializeServices(cfg, repos, hub)
	if err != nil {
		return nil, nil, err
	}

	ctrls := initializeControllers(cfg, svcs, hub, rdb)

	setupGlobalMiddleware(router, cfg, rdb)

	setupPublicRoutes(router, ctrls)
	setupAuthenticatedRoutes(router, ctrls, rdb)
	setupAdminRoutes(router, ctrls)
	SetupWebSocketRoutes(router, ctrls.WebSocket, rdb)

	router.NoRoute(middleware.NoRoute)
	return router, svcs, nil
}

type Repositories struct {
	Emergency *repositories.EmergencyRepository
	Sessions  *repositories.SessionCache
	Locations *location.Store
}

func initializeRepositories(db *mongo.Database, rdb *redis.Client, cfg *config.Config) *Repositories {
	return &Repositories{
		Emergency: repositories.NewEmergencyRepository(db),
		Sessions:  repositories.NewSessionCache(rdb, cfg.ActiveSessionTTL),
		Locations: location.NewStore(rdb, cfg.LocationTTL),
	}
}

type Services struct {
	JWT          *utils.JWTService
	Emergency    *services.EmergencyService
	Notification *services.NotificationService
	Contact      *services.ContactService
	Settings     *services.SettingsService
	Location     *services.LocationService
	Triggers     *triggers.Router
	DispatchPool *workers.NotificationWorker
}

func initializeServices(cfg *config.Config, repos *Repositories, hub *websocket.Hub) (*Services, error) {
	dispatcher, err := config.InitializeNotificationServices(context.Background(), cfg, hub)
	if err != nil {
		return nil, err
	}

	pool := workers.StartNotificationWorker(cfg.DispatchPool())
	policy := cfg.Policy()

	emergencyService := services.NewEmergencyService(services.EmergencyDeps{
		Sessions:   repos.Emergency,
		Contacts:   repos.Emergency,
		Settings:   repos.Emergency,
		Cache:      repos.Sessions,
		Locations:  repos.Locations,
		Dispatcher: dispatcher,
		Notifier:   hub,
		Executor:   pool,
		Scheduler:  emergency.NewScheduler(nil),
		Defaults:   policy,
		NewID:      utils.GenerateUUID,
	})

	router, err := triggers.NewRouter(emergencyService, cfg.Triggers())
	if err != nil {
		pool.Stop()
		return nil, err
	}

	return &Services{
		JWT:          utils.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL),
		Emergency:    emergencyService,
		Notification: dispatcher,
		Contact:      services.NewContactService(repos.Emergency, cfg.MaxContacts),
		Settings:     services.NewSettingsService(repos.Emergency, policy),
		Location:     services.NewLocationService(repos.Locations),
		Triggers:     router,
		DispatchPool: pool,
	}, nil
}

type Controllers struct {
	Auth      *middleware.AuthMiddleware
	Emergency *controllers.EmergencyController
	Contact   *controllers.ContactController
	Location  *controllers.LocationController
	WebSocket *controllers.WebSocketController
	Health    *controllers.HealthController
}

func initializeControllers(cfg *config.Config, svcs *Services, hub *websocket.Hub, rdb *redis.Client) *Controllers {
	auth := middleware.NewAuthMiddleware(svcs.JWT)
	handler := websocket.NewMessageHandler(svcs.Triggers, svcs.Emergency, svcs.Location)

	return &Controllers{
		Auth:      auth,
		Emergency: controllers.NewEmergencyController(svcs.Emergency, svcs.Triggers),
		Contact:   controllers.NewContactController(svcs.Contact, svcs.Settings),
		Location:  controllers.NewLocationController(svcs.Location),
		WebSocket: controllers.NewWebSocketController(hub, handler, auth, cfg.AllowedOrigins),
		Health: controllers.NewHealthController(map[string]controllers.HealthCheck{
			"mongodb": database.Ping,
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		}),
	}
}

func setupGlobalMiddleware(router *gin.Engine, cfg *config.Config, rdb *redis.Client) {
	router.Use(middleware.NewErrorHandler(cfg.Environment, logrus.StandardLogger()).Handle())
	if cfg.Environment == "development" {
		router.Use(middleware.DevelopmentLoggerMiddleware())
	} else {
		router.Use(middleware.DefaultLoggerMiddleware())
	}
	router.Use(middleware.CORSMiddleware(cfg.Environment, cfg.AllowedOrigins))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg.Environment))
}

func setupPublicRoutes(router *gin.Engine, ctrls *Controllers) {
	router.GET("/health", ctrls.Health.HealthCheck)
	router.GET("/api/v1/health", ctrls.Health.HealthCheck)
}

func setupAuthenticatedRoutes(router *gin.Engine, ctrls *Controllers, rdb *redis.Client) {
	api := router.Group("/api/v1")
	api.Use(ctrls.Auth.RequireAuth())

	SetupEmergencyRoutes(api, ctrls.Emergency, ctrls.Contact, rdb)
	SetupLocationRoutes(api, ctrls.Location, rdb)
}

func setupAdminRoutes(router *gin.Engine, ctrls *Controllers) {
	admin := router.Group("/api/v1/admin")
	admin.Use(ctrls.Auth.RequireAuth())
	admin.Use(ctrls.Auth.RequireRole(utils.RoleOperator))

	admin.GET("/sessions/active", ctrls.Emergency.GetActiveSessions)
	admin.POST("/sessions/:userId/resolve", ctrls.Emergency.ResolveSession)

	admin.GET("/connections/stats", ctrls.WebSocket.GetConnectionStats)
	admin.GET("/connections/users", ctrls.WebSocket.GetConnectedUsers)
	admin.GET("/connections/users/:userId", ctrls.WebSocket.GetUserConnection)
}
