// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-ledger/internal/metrics"
	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/restapi/modules/findings"
)

// Services are the handlers' view of the ledger
type Services struct {
	Scans       *services.ReconcileService
	Transitions *services.TransitionService
	Queries     *services.QueryService
	Metrics     *metrics.Metrics
}

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
// CORS and logging are handled globally in internal/api/fiber.go.
func SetupRoutes(app *fiber.App, svc Services, schema graphql.Schema) {
	api := app.Group("/api/v1")

	api.Post("/graphql", GraphQLHandler(schema))

	api.Post("/findings", findings.PostFinding(svc.Transitions))

	findingGroup := api.Group("/findings/:id")
	findingGroup.Post("/scans", findings.PostScan(svc.Scans))
	findingGroup.Get("/vulnerabilities", findings.GetVulnerabilities(svc.Queries))
	findingGroup.Get("/indicators", findings.GetIndicators(svc.Queries))

	api.Post("/transitions", findings.PostTransitions(svc.Transitions))

	if svc.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(svc.Metrics.Handler()))
	}
}
