// Package api builds the HTTP server exposing the ledger.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/ortelius/pdvd-ledger/graphql"
	"github.com/ortelius/pdvd-ledger/restapi"
	"go.uber.org/zap"
)

// AllowOrigins is the default CORS origin list
const AllowOrigins = "http://localhost:3000,http://localhost:4000,http://127.0.0.1:3000,http://127.0.0.1:4000"

// NewFiberApp creates and configures a Fiber app with REST and GraphQL routes
func NewFiberApp(svc restapi.Services, log *zap.Logger) (*fiber.App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	schema, err := graphql.CreateSchema(svc.Queries, svc.Transitions)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               "pdvd-ledger API v1.0",
		BodyLimit:             50 * 1024 * 1024, // 50MB, scans of large repositories
		ReadTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})

	app.Use(fiberrecover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Actor",
		AllowCredentials: true,
		AllowMethods:     "GET, POST, HEAD, OPTIONS",
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("graphql_op", "-")
		return c.Next()
	})
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} - ${latency} ${method} ${path} ${locals:graphql_op}\n",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	restapi.SetupRoutes(app, svc, schema)

	log.Info("HTTP routes registered", zap.Int("handlers", int(app.HandlersCount())))
	return app, nil
}
