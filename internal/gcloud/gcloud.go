// Package gcloud wraps the gcloud commands used around secret provisioning:
// the runtime service account, the VPC connector check and Cloud Run
// deploys.
package gcloud

import (
	"context"
	"fmt"
	"strings"

	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/logging"
	pkgexec "github.com/skylight-social/skyops/pkg/exec"
)

// Runner executes gcloud.
type Runner struct {
	executor pkgexec.CommandExecutor
	logger   *logging.Logger
}

// New creates a Runner.
func New(executor pkgexec.CommandExecutor, logger *logging.Logger) *Runner {
	return &Runner{executor: executor, logger: logger}
}

// errNotFound marks a describe call for a resource that does not exist.
type errNotFound struct{ resource string }

func (e errNotFound) Error() string { return e.resource + " not found" }

// attempts bounds how often a transiently failing gcloud call is run.
const attempts = 2

func (r *Runner) run(ctx context.Context, args ...string) ([]byte, error) {
	var cmdErr error
	for i := 0; i < attempts; i++ {
		r.logger.Debug("gcloud %s", strings.Join(args, " "))
		stdout, stderr, err := r.executor.Execute(ctx, "gcloud", args...)
		if err == nil {
			return stdout, nil
		}
		if notFound(stderr) {
			return nil, errNotFound{resource: strings.Join(args[:min(len(args), 4)], " ")}
		}
		cmdErr = skerrors.NewCommandError("gcloud", args, stderr, err)
		if !skerrors.IsRetryable(cmdErr) || ctx.Err() != nil {
			break
		}
		r.logger.Debug("Retrying transient gcloud failure: %v", cmdErr)
	}
	return nil, cmdErr
}

func notFound(stderr []byte) bool {
	s := string(stderr)
	return strings.Contains(s, "NOT_FOUND") || strings.Contains(s, "was not found") || strings.Contains(s, "does not exist")
}

// EnsureServiceAccount creates the runtime service account unless it
// exists. It reports whether it was created.
func (r *Runner) EnsureServiceAccount(ctx context.Context, project, account, displayName string) (bool, error) {
	email := fmt.Sprintf("%s@%s.iam.gserviceaccount.com", account, project)

	_, err := r.run(ctx, "iam", "service-accounts", "describe", email, "--project", project, "--format", "json")
	if err == nil {
		r.logger.Info("Service account %s exists", email)
		return false, nil
	}
	if _, ok := err.(errNotFound); !ok {
		return false, err
	}

	r.logger.Step("Creating service account %s", email)
	if _, err := r.run(ctx, "iam", "service-accounts", "create", account,
		"--project", project, "--display-name", displayName); err != nil {
		return false, err
	}
	r.logger.Info("Created service account %s", email)
	return true, nil
}

// VPCConnectorExists reports whether the serverless VPC connector is present.
func (r *Runner) VPCConnectorExists(ctx context.Context, project, region, connector string) (bool, error) {
	_, err := r.run(ctx, "compute", "networks", "vpc-access", "connectors", "describe", connector,
		"--region", region, "--project", project, "--format", "json")
	if err == nil {
		return true, nil
	}
	if _, ok := err.(errNotFound); ok {
		return false, nil
	}
	return false, err
}
