package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"regrun/internal/config"
	"regrun/internal/logscan"
	"regrun/internal/reconcile"
	"regrun/pkg/model"
	"regrun/pkg/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "regrun-cli",
		Short:         "Inspect regression cases and logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	root.AddCommand(casesCmd(), watchCmd(), classifyCmd(), tailCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "regrun-cli:", err)
		os.Exit(1)
	}
}

func openEtcd() (*store.EtcdManager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return store.NewEtcdManager(cfg.Store.EtcdEndpoints, cfg.Store.DialTimeout, zap.NewNop())
}

// cases 打印 etcd 中保存的全部用例和汇总
func casesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cases",
		Short: "Print the stored cases and summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			etcd, err := openEtcd()
			if err != nil {
				return err
			}
			defer etcd.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			cases, err := etcd.ListCases(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reconcile.BuildReport(cases))
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream case changes as they are persisted",
		RunE: func(cmd *cobra.Command, args []string) error {
			etcd, err := openEtcd()
			if err != nil {
				return err
			}
			defer etcd.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			for ev := range etcd.WatchCases(ctx) {
				if ev.Type == store.CaseDelete {
					fmt.Fprintf(out, "#%d deleted\n", ev.Index)
					continue
				}
				fmt.Fprintln(out, describe(ev.Index, ev.Case))
			}
			return nil
		},
	}
}

func describe(index int, tc *model.TestCase) string {
	line := fmt.Sprintf("#%d %s %s", index, tc.Name, tc.Status)
	if tc.JobID != "" {
		line += " job=" + tc.JobID
	}
	if tc.Result != "" {
		line += " result=" + string(tc.Result)
	}
	return line
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <log>",
		Short: "Print the verdict of a finished log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := logscan.ClassifyFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func tailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail <log>",
		Short: "Print the one-line preview of a running log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := logscan.NewTailReader(logscan.DefaultRetryPolicy(), nil)
			fmt.Fprintln(cmd.OutOrStdout(), r.Tail(args[0]))
			return nil
		},
	}
}
