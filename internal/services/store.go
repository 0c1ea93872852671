// Package services orchestrates the ledger core for the API, Kafka and CLI entry points.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/pdvd-ledger/database"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/ortelius/pdvd-ledger/util"
	"go.uber.org/zap"
)

// MachineActor signs transitions made on behalf of scanners
const MachineActor = "machine@vulnledger"

// Store is the persistence the services need
type Store interface {
	reconcile.Store
	Finding(ctx context.Context, id string) (*model.Finding, error)
	CreateFinding(ctx context.Context, f *model.Finding) error
	UpdateFinding(ctx context.Context, f *model.Finding, expected int) error
	Vulnerabilities(ctx context.Context, findingID, namespace string) ([]*model.Vulnerability, error)
}

var (
	_ Store = (*database.MemoryStore)(nil)
	_ Store = (*database.ArangoStore)(nil)
)

// withRetry runs op with the storage retry policy and maps what is left
func withRetry(ctx context.Context, cfg util.RetryConfig, logger *zap.Logger, id string, op func(ctx context.Context) error) error {
	err := util.Retry(ctx, cfg, reconcile.Retryable, op, func(err error, wait time.Duration) {
		logger.Warn("Retrying storage call", zap.String("id", id), zap.Duration("wait", wait), zap.Error(err))
	})
	return reconcile.SurfaceError(logger, id, err)
}

func newEvent(at time.Time, findingID, groupName, vulnID string, name model.LedgerName, old, next, actor string) model.TransitionApplied {
	return model.TransitionApplied{
		EventType:       "vulnerability.transition.applied",
		EventID:         uuid.New().String(),
		EventTime:       at,
		SchemaVersion:   "v1",
		VulnerabilityID: vulnID,
		FindingID:       findingID,
		GroupName:       groupName,
		Ledger:          name,
		OldState:        old,
		NewState:        next,
		Actor:           actor,
	}
}
