package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skylight-social/skyops/internal/config"
	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/gcloud"
	"github.com/skylight-social/skyops/internal/preflight"
)

// NewDeployCommand deploys the API to Cloud Run with the provisioned secrets.
func NewDeployCommand(cfg *config.Config) *cobra.Command {
	var (
		source  string
		dryRun  bool
		esURL   string
		skipVPC bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the API to Cloud Run",
		Long: `Deploy the service from source to Cloud Run, mounting the environment's
API key and Elasticsearch key secrets and attaching its VPC connector.

The VPC connector must already exist. Use --dry-run to print the gcloud
command without running anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			s := cfg.Settings
			profile, err := cfg.Profile()
			if err != nil {
				return err
			}

			req := gcloud.DeployRequest{
				Service:        profile.Service,
				Source:         source,
				Region:         s.Region,
				Project:        s.ProjectID,
				ServiceAccount: profile.ServiceAccountEmail(s.ProjectID),
				VPCConnector:   profile.VPCConnector,
				Secrets: map[string]string{
					"API_KEY":               profile.APIKeySecret(),
					"ELASTICSEARCH_API_KEY": profile.ElasticsearchSecret(),
				},
				EnvVars: map[string]string{"ENVIRONMENT": profile.Name},
			}
			if esURL != "" {
				req.EnvVars["ELASTICSEARCH_URL"] = esURL
			}
			if err := req.Validate(); err != nil {
				return err
			}

			if dryRun {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "gcloud "+strings.Join(req.Args(), " "))
				return nil
			}

			if err := preflight.Check(lookPath, "gcloud"); err != nil {
				return err
			}
			runner := gcloud.New(newExecutor(), cfg.Logger)

			if req.VPCConnector != "" && !skipVPC {
				ok, err := runner.VPCConnectorExists(cmd.Context(), s.ProjectID, s.Region, req.VPCConnector)
				if err != nil {
					return err
				}
				if !ok {
					return &skerrors.Error{
						Kind:       skerrors.PrerequisiteMissing,
						Message:    fmt.Sprintf("VPC connector %s not found in %s", req.VPCConnector, s.Region),
						Suggestion: "Create it with 'gcloud compute networks vpc-access connectors create' or pass --skip-vpc-check",
					}
				}
				cfg.Logger.Info("VPC connector %s is available", req.VPCConnector)
			}

			out, err := runner.Deploy(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = cmd.OutOrStdout().Write(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", ".", "Source directory to build and deploy")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the deploy command without running it")
	cmd.Flags().StringVar(&esURL, "elasticsearch-service-url", "", "ELASTICSEARCH_URL passed to the service")
	cmd.Flags().BoolVar(&skipVPC, "skip-vpc-check", false, "Do not verify the VPC connector before deploying")
	return cmd
}
