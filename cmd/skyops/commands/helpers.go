package commands

import (
	"context"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/skylight-social/skyops/internal/config"
	"github.com/skylight-social/skyops/internal/gcloud"
	"github.com/skylight-social/skyops/internal/secretsync"
	pkgexec "github.com/skylight-social/skyops/pkg/exec"
)

// secretClient is what commands need from the Secret Manager client.
type secretClient interface {
	secretsync.API
	Ping(ctx context.Context, project string) error
	Close() error
}

type projectChecker interface {
	Exists(ctx context.Context, projectID string) (bool, error)
	Close() error
}

// Constructors for external clients, replaced in tests.
var (
	newExecutor = pkgexec.DefaultExecutor
	lookPath    = pkgexec.LookPath

	newSecretClient = func(ctx context.Context, cfg secretsync.ClientConfig) (secretClient, error) {
		return secretsync.NewGCPClient(ctx, cfg)
	}

	newProjectChecker = func(ctx context.Context, cfg secretsync.ClientConfig) (projectChecker, error) {
		opts, err := secretsync.ClientOptions(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return gcloud.NewProjectChecker(ctx, append(opts, option.WithUserAgent("skyops"))...)
	}
)

// addProvisionFlags registers the flags shared by bootstrap and setup.
func addProvisionFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("elasticsearch-api-key", "", "Use this Elasticsearch API key instead of issuing one (env ELASTICSEARCH_API_KEY)")
	flags.String("api-key", "", "Service API key to store (env API_KEY)")
	flags.Bool("skip-es-fetch", false, "Do not issue an Elasticsearch key from the cluster (env SKIP_ES_FETCH)")
	flags.Bool("fail-on-degrade", false, "Exit non-zero when no Elasticsearch key could be issued (env FAIL_ON_DEGRADE)")
	flags.String("elasticsearch-url", "", "Reach Elasticsearch directly instead of through kubectl exec")
	flags.Bool("elasticsearch-insecure", true, "Skip TLS verification for --elasticsearch-url")
	flags.String("keyring-service", "", "Read the API key from this OS keyring service when not supplied")
	flags.String("metrics-file", "", "Write run metrics to this node-exporter textfile")
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	return cfg.Load(cmd.Flags())
}

func clientConfig(s *config.Settings) secretsync.ClientConfig {
	return secretsync.ClientConfig{
		CredentialsFile:    s.CredentialsFile,
		ImpersonateAccount: s.ImpersonateServiceAccount,
	}
}
