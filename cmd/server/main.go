package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/formbridge/backend/internal/config"
	"github.com/formbridge/backend/internal/database"
	"github.com/formbridge/backend/internal/handlers"
	"github.com/formbridge/backend/internal/middleware"
	"github.com/formbridge/backend/internal/services"
	"github.com/formbridge/backend/pkg/logger"
	"github.com/formbridge/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	authService := services.NewAirtableAuthService(db, cfg)
	formService := services.NewFormService(db)

	authHandler := handlers.NewAuthHandler(db, cfg, authService)
	airtableHandler := handlers.NewAirtableHandler(cfg)
	formsHandler := handlers.NewFormsHandler(db, cfg, formService, authService)

	authMiddleware := middleware.NewAuthMiddleware(db, authService)

	app := fiber.New(fiber.Config{BodyLimit: 10 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Get("/airtable", authHandler.Login)
	authRoutes.Get("/airtable/callback", authHandler.Callback)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Post("/logout", authHandler.Logout)

	airtableRoutes := api.Group("/airtable", authMiddleware.RequireAuth)
	airtableRoutes.Get("/bases", airtableHandler.ListBases)
	airtableRoutes.Get("/bases/:baseId/tables", airtableHandler.ListTables)
	airtableRoutes.Get("/bases/:baseId/tables/:tableId/fields", airtableHandler.ListFields)
	airtableRoutes.Get("/bases/:baseId/tables/:tableId/records", airtableHandler.ListRecords)
	airtableRoutes.Post("/bases/:baseId/tables/:tableId/records", airtableHandler.CreateRecord)

	formRoutes := api.Group("/forms")
	formRoutes.Post("/", authMiddleware.RequireAuth, formsHandler.Create)
	formRoutes.Get("/", authMiddleware.RequireAuth, formsHandler.List)
	formRoutes.Get("/:formId", authMiddleware.OptionalAuth, formsHandler.Get)
	formRoutes.Put("/:formId", authMiddleware.RequireAuth, formsHandler.Update)
	formRoutes.Delete("/:formId", authMiddleware.RequireAuth, formsHandler.Delete)

	publicRoutes := api.Group("/public/forms")
	publicRoutes.Get("/:formId", formsHandler.PublicGet)
	publicRoutes.Post("/:formId/submit", formsHandler.PublicSubmit)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
