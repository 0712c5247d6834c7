package main

import (
	"context"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/syrou/reaktiv-devtools/internal/api/handlers"
	"github.com/syrou/reaktiv-devtools/internal/api/middleware"
	"github.com/syrou/reaktiv-devtools/internal/config"
	"github.com/syrou/reaktiv-devtools/internal/database"
	"github.com/syrou/reaktiv-devtools/internal/hub"
	"github.com/syrou/reaktiv-devtools/internal/logging"
	"github.com/syrou/reaktiv-devtools/internal/websocket"
)

func main() {
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.Debug)
	defer log.Sync()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Infof("opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Errorf("failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	deviceHub := hub.New(&hub.SQLStore{DB: db.DB}, log)
	if err := deviceHub.LoadGhosts(context.Background()); err != nil {
		log.Warnf("failed to load persisted ghost sessions: %v", err)
	}

	wsServer := websocket.NewServer(deviceHub, log)
	ghostHandler := handlers.NewGhostHandler(deviceHub, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
	}))
	router.Use(middleware.LoggingMiddleware(log))

	// Root endpoint - returns plain text for client validation.
	router.GET("/", func(c *gin.Context) {
		c.String(200, "Reaktiv DevTools Hub")
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/clients", ghostHandler.ListClients)
		v1.POST("/clients/role", ghostHandler.AssignRole)
		v1.GET("/ghosts", ghostHandler.ListGhosts)
		v1.POST("/ghosts", ghostHandler.ImportGhost)
		v1.GET("/ghosts/:id", ghostHandler.GetGhost)
		v1.DELETE("/ghosts/:id", ghostHandler.DeleteGhost)
		v1.POST("/ghosts/:id/seek", ghostHandler.SeekGhost)
	}

	// Device protocol endpoint.
	router.GET("/v1/devices", wsServer.HandleWebSocket)

	log.Infof("Reaktiv DevTools Hub starting on %s", cfg.Addr)
	if err := router.Run(cfg.Addr); err != nil {
		log.Errorf("failed to start server: %v", err)
		os.Exit(1)
	}
}
