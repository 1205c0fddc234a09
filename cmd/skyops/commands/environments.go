package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skylight-social/skyops/internal/config"
)

// NewEnvironmentsCommand prints the environment naming table.
func NewEnvironmentsCommand(cfg *config.Config) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:     "environments",
		Aliases: []string{"envs"},
		Short:   "List environments and the resource names they map to",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("profiles-file")
			table, err := config.LoadProfiles(path)
			if err != nil {
				return err
			}
			if project == "" {
				project = "<project>"
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ENV\tCLUSTER\tPOD\tES SECRET\tAPI SECRET\tSERVICE ACCOUNT")
			for _, name := range table.Names() {
				p := table.Profiles[name]
				label := name
				if name == table.Default {
					label += " (default)"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\t%s\n",
					label, p.Cluster, p.Namespace, p.Pod,
					p.ElasticsearchSecret(), p.APIKeySecret(), p.ServiceAccountEmail(project))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&project, "for-project", "", "Project ID used to render service account emails")
	return cmd
}
