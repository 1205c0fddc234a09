package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skylight-social/skyops/internal/config"
	"github.com/skylight-social/skyops/internal/gcloud"
	"github.com/skylight-social/skyops/internal/preflight"
)

// NewSetupCommand prepares the runtime identity and then bootstraps.
func NewSetupCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the runtime service account, then provision secrets",
		Long: `Ensure the Cloud Run runtime service account of the environment exists,
then run the same steps as 'skyops bootstrap'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			if err := preflight.Check(lookPath, "gcloud"); err != nil {
				return err
			}

			profile, err := cfg.Profile()
			if err != nil {
				return err
			}

			runner := gcloud.New(newExecutor(), cfg.Logger)
			displayName := fmt.Sprintf("Skylight API runner (%s)", profile.Name)
			if _, err := runner.EnsureServiceAccount(cmd.Context(), cfg.Settings.ProjectID, profile.ServiceAcct, displayName); err != nil {
				return err
			}

			return redactSettings(runBootstrap(cmd.Context(), cfg, cmd.Name()), cfg.Settings)
		},
	}
	addProvisionFlags(cmd)
	return cmd
}
