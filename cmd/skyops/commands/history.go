package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skylight-social/skyops/internal/config"
	"github.com/skylight-social/skyops/internal/history"
)

// NewHistoryCommand lists recorded provisioning runs.
func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var (
		limit int
		env   string
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded bootstrap runs",
		Long: `List runs recorded under --state-dir, newest first, or show the
per-secret outcome of one run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("state-dir")
			if dir == "" {
				dir = os.Getenv("STATE_DIR")
			}
			if dir == "" {
				return fmt.Errorf("no state directory: pass --state-dir")
			}
			store := history.NewStore(dir)
			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

			if len(args) == 1 {
				run, err := store.Load(args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "%s  %s/%s  %s  %s\n\n", run.ID, run.Project, run.Environment, run.Command, run.Status)
				_, _ = fmt.Fprintln(w, "SECRET\tSOURCE\tSTATUS\tVERSION\tERROR")
				for _, s := range run.Secrets {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Secret, s.Source, s.Status, s.Version, s.Error)
				}
				return w.Flush()
			}

			runs, err := store.List(env)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cfg.Logger.Info("No runs recorded in %s", dir)
				return nil
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			_, _ = fmt.Fprintln(w, "ID\tTIME\tPROJECT\tENV\tCOMMAND\tSTATUS")
			for _, r := range runs {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Timestamp.Format("2006-01-02 15:04:05"), r.Project, r.Environment, r.Command, r.Status)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&env, "for-env", "", "Only list runs of this environment")
	return cmd
}
