package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/berfenger/cozylife2mqtt/internal/adapter/store"
	"github.com/berfenger/cozylife2mqtt/internal/core/configflow"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/service"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// The device commands work on the record store directly. A running bridge picks the
// changes up on its next start.

var (
	addName    string
	addType    string
	importFile string
	importLink string
	listJSON   bool
)

func init() {
	addCmd.Flags().StringVar(&addName, "name", "", "device name, defaults to the ip")
	addCmd.Flags().StringVar(&addType, "type", string(domain.DEVICE_TYPE_SWITCH), "device type")
	rootCmd.AddCommand(addCmd)

	importCmd.Flags().StringVar(&importFile, "file", "", "import devices from a local JSON file")
	importCmd.Flags().StringVar(&importLink, "link", "", "import devices from a JSON link")
	importCmd.MarkFlagsMutuallyExclusive("file", "link")
	rootCmd.AddCommand(importCmd)

	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON instead of YAML")
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(removeCmd)
}

var addCmd = &cobra.Command{
	Use:   "add <ip>",
	Short: "Test and add one device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFlowManager(func(ctx context.Context, flows *configflow.FlowManager, jobs *configflow.JobQueue) error {
			res, err := startFlow(ctx, flows, configflow.MODE_MANUAL)
			if err != nil {
				return err
			}
			res, err = flows.Configure(ctx, res.FlowId, map[string]any{
				domain.CONF_IP_ADDRESS: args[0],
				domain.CONF_NAME:       addName,
				domain.CONF_TYPE:       addType,
			})
			if err != nil {
				return err
			}
			return printFlowResult(cmd, res)
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import devices from the configured file, a file or a link",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if importFile != "" {
			cfg.Import.File = importFile
		}
		return withFlowManager(func(ctx context.Context, flows *configflow.FlowManager, jobs *configflow.JobQueue) error {
			mode := configflow.MODE_FROM_FILE
			if importLink != "" {
				mode = configflow.MODE_FROM_LINK
			}
			res, err := startFlow(ctx, flows, mode)
			if err != nil {
				return err
			}
			if res.StepId == configflow.STEP_IMPORT_LINK {
				res, err = flows.Configure(ctx, res.FlowId, map[string]any{domain.CONF_LINK: importLink})
				if err != nil {
					return err
				}
			}
			if res.Reason == configflow.ABORT_IMPORT_SUCCESS {
				fmt.Fprintf(cmd.OutOrStdout(), "testing %d devices...\n", res.Scheduled)
				jobs.Wait()
			}
			return printFlowResult(cmd, res)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		recordStore, err := store.NewSQLiteStore(cfg.Storage.Path, logger)
		if err != nil {
			return err
		}
		defer recordStore.Close()

		records, err := recordStore.List(cmd.Context())
		if err != nil {
			return err
		}
		if listJSON {
			out, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(records)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <ip>",
	Short: "Remove a configured device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFlowManager(func(ctx context.Context, flows *configflow.FlowManager, jobs *configflow.JobQueue) error {
			err := flows.RemoveEntry(ctx, args[0])
			if errors.Is(err, domain.ErrRecordNotFound) {
				return fmt.Errorf("no device configured for %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		})
	},
}

func withFlowManager(fn func(ctx context.Context, flows *configflow.FlowManager, jobs *configflow.JobQueue) error) error {
	recordStore, err := store.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	jobs, err := configflow.NewJobQueue(cfg.Import.WorkerLimit, logger)
	if err != nil {
		return err
	}
	defer jobs.Stop()

	flows := configflow.NewFlowManager(cfg, recordStore, service.DeviceProxyFactory(cfg.Devices, logger), jobs, nil, logger)
	return fn(context.Background(), flows, jobs)
}

func startFlow(ctx context.Context, flows *configflow.FlowManager, mode string) (configflow.FlowResult, error) {
	res, err := flows.Init(ctx, configflow.SOURCE_USER, nil)
	if err != nil {
		return res, err
	}
	return flows.Configure(ctx, res.FlowId, map[string]any{domain.CONF_MODE: mode})
}

func printFlowResult(cmd *cobra.Command, res configflow.FlowResult) error {
	out := cmd.OutOrStdout()
	switch res.Type {
	case configflow.RESULT_TYPE_CREATE_ENTRY:
		fmt.Fprintf(out, "added %s (%s)\n", res.Title, res.Data.IP)
		return nil
	case configflow.RESULT_TYPE_FORM:
		for field, code := range res.Errors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", field, code)
		}
		return fmt.Errorf("%s step rejected the input", res.StepId)
	default:
		if res.Reason == configflow.ABORT_IMPORT_SUCCESS {
			fmt.Fprintf(out, "import finished, %d devices tested\n", res.Scheduled)
			return nil
		}
		return fmt.Errorf("aborted: %s", res.Reason)
	}
}
