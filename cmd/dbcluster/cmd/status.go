package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/eth0jp/go-dbcluster/health"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool status",
	Long: `Connect to every configured node and print which ones are reachable.

With --remote the status is requested over NATS from a running
"dbcluster serve" instead.

Example:
  dbcluster status --config pool.yaml
  dbcluster status --remote orders --nats nats://localhost:4222`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("remote", "", "Query the named pool over NATS")
	statusCmd.Flags().Bool("json", false, "Print status as JSON")
	statusCmd.Flags().Duration("timeout", 10*time.Second, "Timeout for connects and remote queries")
}

func runStatus(cmd *cobra.Command, args []string) error {
	remote, _ := cmd.Flags().GetString("remote")
	asJSON, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var status cluster.Status
	if remote != "" {
		url := getNATSURL()
		if url == "" {
			return fmt.Errorf("NATS URL is required for --remote (use --nats or set DBCLUSTER_NATS_URL)")
		}
		resp, err := health.Query(ctx, health.Config{
			NATSURLs:        []string{url},
			NATSCredentials: viper.GetString("nats_creds"),
		}, remote, timeout)
		if err != nil {
			return err
		}
		status = resp.Status
		if !asJSON {
			fmt.Printf("Instance: %s (up %s)\n", resp.Instance, time.Duration(resp.UptimeMs)*time.Millisecond)
		}
	} else {
		pool, err := openPool(ctx, newLogger(slog.LevelWarn))
		if err != nil {
			return err
		}
		defer pool.Close()
		status = pool.Status()
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printStatus(os.Stdout, status)
	if !status.Available() {
		return cluster.ErrClusterUnavailable
	}
	return nil
}

func printStatus(out io.Writer, status cluster.Status) {
	fmt.Fprintf(out, "Pool: %s\n", status.Pool)
	fmt.Fprintf(out, "Nodes: %d total, %d connected\n\n", len(status.Nodes), status.Connected)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tADDRESS\tSTATUS\tNEXT RETRY")
	for _, n := range status.Nodes {
		state := "down"
		switch {
		case n.Connected:
			state = "connected"
		case n.Reconnecting:
			state = "reconnecting"
		}
		next := "-"
		if !n.Connected && !n.NextRetry.IsZero() {
			next = n.NextRetry.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Name, n.Addr, state, next)
	}
	w.Flush()
}
