package commands

import (
	"github.com/spf13/cobra"

	"github.com/skylight-social/skyops/internal/config"
	"github.com/skylight-social/skyops/internal/logging"
)

// NewRootCommand builds the skyops command tree around cfg.
func NewRootCommand(cfg *config.Config, version string) *cobra.Command {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:   "skyops",
		Short: "Provision Skylight API secrets and deploy the service",
		Long: `skyops issues a scoped Elasticsearch API key from the ECK cluster of an
environment, stores it and the service API key in Secret Manager, and grants
the Cloud Run runtime service account read access to both.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			cfg.Logger.SetOutput(cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "skyops.yaml", "Config file path")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.String("project", "", "GCP project ID (env PROJECT_ID)")
	flags.String("region", "", "GCP region (env REGION, default us-central1)")
	flags.String("env", "", "Environment tag from the profiles table (env ENVIRONMENT)")
	flags.String("profiles-file", "", "Override the built-in environment profiles table")
	flags.String("impersonate-service-account", "", "Service account to impersonate for Google API calls")
	flags.String("credentials-file", "", "Service account key file for Google API calls")
	flags.String("state-dir", "", "Directory for run history; history is not kept when empty")

	rootCmd.AddCommand(
		NewBootstrapCommand(cfg),
		NewSetupCommand(cfg),
		NewDeployCommand(cfg),
		NewDoctorCommand(cfg),
		NewEnvironmentsCommand(cfg),
		NewHistoryCommand(cfg),
		NewCompletionCommand(cfg),
	)
	return rootCmd
}
