package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	cluster "github.com/eth0jp/go-dbcluster"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <statement> [args...]",
	Short: "Run a statement on an active node",
	Long: `Select an active node and run one statement on it. Statements that
start with SELECT, SHOW, WITH, EXPLAIN or DESCRIBE are run as queries and
their rows are printed; anything else reports the affected row count.

Example:
  dbcluster exec "SELECT @@hostname"
  dbcluster exec "UPDATE jobs SET state = ? WHERE id = ?" done 42`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().Bool("query", false, "Force the statement to be run as a query")
	execCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for selection and execution")
}

func runExec(cmd *cobra.Command, args []string) error {
	forceQuery, _ := cmd.Flags().GetBool("query")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pool, err := openPool(ctx, newLogger(slog.LevelWarn))
	if err != nil {
		return err
	}
	defer pool.Close()

	op := operationFor(args[0], toArgs(args[1:]), forceQuery)
	return pool.Do(ctx, func(ctx context.Context, c *cluster.Connection) error {
		res, err := c.Execute(ctx, op)
		if err != nil {
			return err
		}
		if verboseEnabled() {
			fmt.Fprintf(os.Stderr, "node: %s\n", c.Node().Name())
		}
		printResult(os.Stdout, op, res)
		return nil
	})
}

var queryPrefixes = []string{"SELECT", "SHOW", "WITH", "EXPLAIN", "DESCRIBE", "DESC", "VALUES", "TABLE"}

func operationFor(statement string, args []any, forceQuery bool) cluster.Operation {
	if forceQuery {
		return cluster.Query(statement, args...)
	}
	fields := strings.Fields(statement)
	if len(fields) > 0 {
		first := strings.ToUpper(fields[0])
		for _, p := range queryPrefixes {
			if first == p {
				return cluster.Query(statement, args...)
			}
		}
	}
	return cluster.Exec(statement, args...)
}

func toArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, a := range raw {
		args[i] = a
	}
	return args
}

func printResult(out io.Writer, op cluster.Operation, res cluster.Result) {
	if op.Kind == cluster.OpExec {
		fmt.Fprintf(out, "%d row(s) affected", res.RowsAffected)
		if res.LastInsertID != 0 {
			fmt.Fprintf(out, ", last insert id %d", res.LastInsertID)
		}
		fmt.Fprintln(out)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	fmt.Fprintf(out, "(%d row(s))\n", len(res.Rows))
}
