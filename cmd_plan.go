package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ortelius/pdvd-ledger/database"
	"github.com/ortelius/pdvd-ledger/events/modules/transitions"
	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newPlanCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the transitions a scan would apply without persisting them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scan, err := readScan(v.GetString("scan.file"))
			if err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger := database.InitLogger()
			defer func() { _ = logger.Sync() }()

			db, err := database.InitializeDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			scans := services.NewReconcileService(database.NewArangoStore(db), nil, nil, nil, logger,
				reconcile.Config{Workers: cfg.Workers, Retry: cfg.Retry()})
			plan, err := scans.Plan(cmd.Context(), scan)
			if err != nil {
				return err
			}
			logger.Info("Planned scan",
				zap.String("finding", plan.FindingID),
				zap.Int("create", plan.Count(reconcile.ActionCreate)),
				zap.Int("reopen", plan.Count(reconcile.ActionReopen)),
				zap.Int("close", plan.Count(reconcile.ActionClose)),
				zap.Int("unchanged", plan.Unchanged),
			)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	cmd.Flags().StringP("file", "f", "-", "Scan request JSON file, - reads stdin")
	_ = v.BindPFlag("scan.file", cmd.Flags().Lookup("file"))
	return cmd
}

func newPublishCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a scan request to the scan results topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scan, err := readScan(v.GetString("publish.file"))
			if err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			producer := transitions.NewProducer(cfg.KafkaBrokers, cfg.ScanTopic)
			defer func() { _ = producer.Close() }()

			ctx := cmd.Context()
			if timeout := v.GetDuration("publish.timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			if err := producer.PublishScanResults(ctx, scan); err != nil {
				return err
			}
			cmd.Printf("Published %d results for finding %s to %s\n", len(scan.Results), scan.FindingID, cfg.ScanTopic)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "-", "Scan request JSON file, - reads stdin")
	cmd.Flags().Duration("timeout", 30*time.Second, "Publish timeout")
	_ = v.BindPFlag("publish.file", cmd.Flags().Lookup("file"))
	_ = v.BindPFlag("publish.timeout", cmd.Flags().Lookup("timeout"))
	return cmd
}
