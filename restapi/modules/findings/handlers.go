// Package findings implements the REST API handlers for scans, transitions and indicators.
package findings

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/util"
)

// ActorHeader names the already authenticated caller when the body does not
const ActorHeader = "X-Actor"

// TransitionBatch is the body of POST /transitions
type TransitionBatch struct {
	Transitions []model.TransitionRequest `json:"transitions"`
}

// PostFinding creates a draft finding
func PostFinding(transitions *services.TransitionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req services.DraftRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body: " + err.Error(),
			})
		}
		if req.Actor == "" {
			req.Actor = c.Get(ActorHeader)
		}

		f, err := transitions.CreateDraft(c.UserContext(), req)
		if err != nil {
			return c.Status(StatusFor(err)).JSON(errorBody(err))
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "finding": f})
	}
}

// PostScan reconciles the results of one scanner run for the finding in the
// path. With ?dry_run=true the plan is returned without being applied.
func PostScan(scans *services.ReconcileService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.ScanRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body: " + err.Error(),
			})
		}

		findingID := c.Params("id")
		if req.FindingID == "" {
			req.FindingID = findingID
		}
		if req.FindingID != findingID {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "finding_id does not match the path",
			})
		}
		if util.IsEmpty(req.Namespace) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "namespace is required",
			})
		}
		if req.Actor == "" {
			req.Actor = c.Get(ActorHeader)
		}

		ctx := c.UserContext()
		if c.QueryBool("dry_run") {
			plan, err := scans.Plan(ctx, req)
			if err != nil {
				return c.Status(StatusFor(err)).JSON(errorBody(err))
			}
			return c.JSON(fiber.Map{"success": true, "plan": plan})
		}

		report, err := scans.ProcessScan(ctx, req)
		if err != nil {
			body := errorBody(err)
			body["report"] = report
			return c.Status(StatusFor(err)).JSON(body)
		}
		return c.JSON(fiber.Map{"success": true, "report": report})
	}
}

// PostTransitions applies a batch of transitions. A single request reports its
// own status; a partially failed batch answers 207 with every outcome.
func PostTransitions(transitions *services.TransitionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var batch TransitionBatch
		if err := c.BodyParser(&batch); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body: " + err.Error(),
			})
		}
		if len(batch.Transitions) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "at least one transition is required",
			})
		}

		actor := c.Get(ActorHeader)
		for i := range batch.Transitions {
			if batch.Transitions[i].Actor == "" {
				batch.Transitions[i].Actor = actor
			}
			if batch.Transitions[i].Actor == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"success": false,
					"message": "every transition needs an actor",
				})
			}
		}

		outcomes, err := transitions.ApplyBatch(c.UserContext(), batch.Transitions)
		status := fiber.StatusOK
		if err != nil {
			status = fiber.StatusMultiStatus
			if len(outcomes) == 1 {
				status = OutcomeStatus(outcomes[0])
			}
		}
		return c.Status(status).JSON(fiber.Map{
			"success":  err == nil,
			"outcomes": outcomes,
		})
	}
}

// GetIndicators returns the counters, remediation times and tracking of a
// finding. ?days limits remediation times to recently opened vulnerabilities.
func GetIndicators(queries *services.QueryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var since time.Time
		if days := c.QueryInt("days"); days > 0 {
			since = time.Now().UTC().AddDate(0, 0, -days)
		}
		ind, err := queries.Indicators(c.UserContext(), c.Params("id"), since)
		if err != nil {
			return c.Status(StatusFor(err)).JSON(errorBody(err))
		}
		return c.JSON(ind)
	}
}

// GetVulnerabilities lists the vulnerabilities of a finding, ?namespace filters
func GetVulnerabilities(queries *services.QueryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		vulns, err := queries.Vulnerabilities(c.UserContext(), c.Params("id"), c.Query("namespace"))
		if err != nil {
			return c.Status(StatusFor(err)).JSON(errorBody(err))
		}
		return c.JSON(fiber.Map{"vulnerabilities": vulns})
	}
}
