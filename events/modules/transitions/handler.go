package transitions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/ortelius/pdvd-ledger/util"
	"go.uber.org/zap"
)

// ScanService defines the reconciliation entry point used by the handler
type ScanService interface {
	ProcessScan(ctx context.Context, scan model.ScanRequest) (services.ScanReport, error)
}

// HandleScanResultsWithService processes scan result events from Kafka
func HandleScanResultsWithService(
	ctx context.Context,
	msg []byte,
	service ScanService,
	logger *zap.Logger,
) error {
	var event ScanResultsEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal ScanResultsEvent: %w", err)
	}

	if util.IsEmpty(event.Scan.FindingID) || util.IsEmpty(event.Scan.Namespace) {
		return fmt.Errorf("invalid event: missing required fields")
	}

	logger.Info("Processing scan results",
		zap.String("event_id", event.EventID),
		zap.String("finding", event.Scan.FindingID),
		zap.String("namespace", event.Scan.Namespace),
		zap.Int("results", len(event.Scan.Results)))

	report, err := service.ProcessScan(ctx, event.Scan)
	if err != nil {
		return fmt.Errorf("internal service error: %w", err)
	}

	logger.Info("Processed scan results",
		zap.String("finding", event.Scan.FindingID),
		zap.Int("created", report.Plan.Count(reconcile.ActionCreate)),
		zap.Int("reopened", report.Plan.Count(reconcile.ActionReopen)),
		zap.Int("closed", report.Plan.Count(reconcile.ActionClose)),
		zap.Int("unchanged", report.Plan.Unchanged))
	return nil
}
