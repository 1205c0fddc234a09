package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skylight-social/skyops/internal/bootstrap"
	"github.com/skylight-social/skyops/internal/config"
	"github.com/skylight-social/skyops/internal/history"
	"github.com/skylight-social/skyops/internal/logging"
)

// NewBootstrapCommand provisions the environment's secrets.
func NewBootstrapCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Issue the Elasticsearch key and store the service secrets",
		Long: `Provision the secrets of one environment:

1. Fetch the ECK elastic user password through gcloud and kubectl
2. Issue a read-only Elasticsearch API key valid for 365 days
3. Create or update elasticsearch-api-key<suffix> in Secret Manager
4. Create or update api-key<suffix> when a value is supplied
5. Grant the runtime service account secretAccessor on both

A key that cannot be issued is reported as a warning and the run goes on
with the API key; pass --fail-on-degrade to make that an error.`,
		Example: `  skyops bootstrap --project my-project --env prod --api-key "$API_KEY"
  skyops bootstrap --env stage --elasticsearch-api-key "$ES_KEY" --skip-es-fetch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			err := runBootstrap(cmd.Context(), cfg, cmd.Name())
			return redactSettings(err, cfg.Settings)
		},
	}
	addProvisionFlags(cmd)
	return cmd
}

func runBootstrap(ctx context.Context, cfg *config.Config, command string) error {
	s := cfg.Settings

	client, err := newSecretClient(ctx, clientConfig(s))
	if err != nil {
		return fmt.Errorf("failed to connect to Secret Manager: %w", err)
	}
	defer func() { _ = client.Close() }()

	metrics := bootstrap.NewMetrics()
	workflow, err := bootstrap.New(cfg, bootstrap.Deps{
		Executor: newExecutor(),
		Secrets:  client,
		LookPath: lookPath,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	report, err := workflow.Run(ctx)
	if err != nil {
		return err
	}
	report.Log(cfg.Logger)

	if err := metrics.WriteTextfile(s.MetricsFile); err != nil {
		cfg.Logger.Warn("Could not write metrics to %s: %v", s.MetricsFile, err)
	}
	if s.StateDir != "" {
		run := history.FromReport(command, report)
		if err := history.NewStore(s.StateDir).Record(run); err != nil {
			cfg.Logger.Warn("Could not record run history: %v", err)
		} else {
			cfg.Logger.Debug("Recorded run %s", run.ID)
		}
	}

	if err := report.Err(s.FailOnDegrade); err != nil {
		return err
	}
	cfg.Logger.Info("Secrets for %s provisioned in %s", s.Environment, s.ProjectID)
	return nil
}

// redactedError hides supplied secret values in a message while keeping the
// wrapped error reachable for errors.Is and errors.As.
type redactedError struct {
	err error
	msg string
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redactSettings(err error, s *config.Settings) error {
	if err == nil || s == nil {
		return err
	}
	msg := logging.Redact(err.Error(), []string{s.APIKey, s.ElasticsearchAPIKey})
	if msg == err.Error() {
		return err
	}
	return &redactedError{err: err, msg: msg}
}
