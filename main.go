// Package main is the vulnerability ledger service and its operator commands.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ortelius/pdvd-ledger/internal/config"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time
var Version = "0.0.1"

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vulnledger",
		Short:         "Vulnerability state ledger",
		Long:          "Reconciles scanner output with the persisted vulnerability ledgers and applies lifecycle transitions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("arango-url", "", "ArangoDB endpoint")
	rootCmd.PersistentFlags().String("kafka-brokers", "", "Comma separated Kafka brokers")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("arango.url", rootCmd.PersistentFlags().Lookup("arango-url"))
	_ = v.BindPFlag("kafka.brokers", rootCmd.PersistentFlags().Lookup("kafka-brokers"))

	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newPlanCmd(v))
	rootCmd.AddCommand(newPublishCmd(v))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	})
	return rootCmd
}

func loadConfig(v *viper.Viper) (config.Config, error) {
	return config.Load(v, v.GetString("config"))
}

// readScan loads a scan request from a JSON file, "-" reads stdin
func readScan(path string) (model.ScanRequest, error) {
	var scan model.ScanRequest
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path) // #nosec G304
	}
	if err != nil {
		return scan, err
	}
	if err := json.Unmarshal(data, &scan); err != nil {
		return scan, fmt.Errorf("invalid scan file %s: %w", path, err)
	}
	if scan.FindingID == "" || scan.Namespace == "" {
		return scan, fmt.Errorf("scan file %s needs finding_id and namespace", path)
	}
	return scan, nil
}

func main() {
	if err := newRootCmd(config.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
