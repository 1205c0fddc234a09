package gcloud

import (
	"context"
	"fmt"
	"sort"
	"strings"

	skerrors "github.com/skylight-social/skyops/internal/errors"
)

// DeployRequest describes a source deploy to Cloud Run.
type DeployRequest struct {
	Service        string
	Source         string
	Region         string
	Project        string
	ServiceAccount string
	VPCConnector   string
	// Secrets maps environment variable names to Secret Manager secrets,
	// always mounted at their latest version.
	Secrets map[string]string
	EnvVars map[string]string
}

// Validate checks that every required field is set.
func (r DeployRequest) Validate() error {
	var missing []string
	for field, value := range map[string]string{
		"service":         r.Service,
		"source":          r.Source,
		"region":          r.Region,
		"project":         r.Project,
		"service account": r.ServiceAccount,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return skerrors.New(skerrors.ConfigurationInvalid,
			"deploy request is missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Args renders the gcloud run deploy invocation. Map-valued flags are
// sorted so the command is stable.
func (r DeployRequest) Args() []string {
	args := []string{
		"run", "deploy", r.Service,
		"--source", r.Source,
		"--region", r.Region,
		"--project", r.Project,
		"--service-account", r.ServiceAccount,
	}
	if r.VPCConnector != "" {
		args = append(args, "--vpc-connector", r.VPCConnector)
	}
	if len(r.Secrets) > 0 {
		pairs := make([]string, 0, len(r.Secrets))
		for env, secret := range r.Secrets {
			pairs = append(pairs, fmt.Sprintf("%s=%s:latest", env, secret))
		}
		sort.Strings(pairs)
		args = append(args, "--set-secrets", strings.Join(pairs, ","))
	}
	if len(r.EnvVars) > 0 {
		pairs := make([]string, 0, len(r.EnvVars))
		for k, v := range r.EnvVars {
			pairs = append(pairs, k+"="+v)
		}
		sort.Strings(pairs)
		args = append(args, "--set-env-vars", strings.Join(pairs, ","))
	}
	return append(args, "--quiet")
}

// Deploy runs the deploy and returns gcloud's output.
func (r *Runner) Deploy(ctx context.Context, req DeployRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.logger.Step("Deploying %s to %s", req.Service, req.Region)
	out, err := r.run(ctx, req.Args()...)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Deployed %s", req.Service)
	return out, nil
}
