package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skylight-social/skyops/internal/config"
	"github.com/skylight-social/skyops/internal/preflight"
)

// CheckResult is one line of doctor output.
type CheckResult struct {
	Name   string
	OK     bool
	Detail string
}

// NewDoctorCommand checks tools, configuration and GCP access.
func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, configuration and GCP access",
		Long: `Verify that skyops can run for the selected environment.

This command checks:
- gcloud and kubectl are installed
- Configuration and the environment profile are valid
- The project exists in Resource Manager
- Secret Manager is reachable with the current credentials`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := runChecks(cmd, cfg)
			displayCheckResults(cmd.OutOrStdout(), results)

			passed := 0
			for _, r := range results {
				if r.OK {
					passed++
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nSummary: %d/%d checks passed\n", passed, len(results))
			if passed < len(results) {
				return fmt.Errorf("%d checks failed", len(results)-passed)
			}
			cfg.Logger.Info("All checks passed")
			return nil
		},
	}
	return cmd
}

func runChecks(cmd *cobra.Command, cfg *config.Config) []CheckResult {
	var results []CheckResult

	for _, tool := range []string{"gcloud", "kubectl"} {
		r := CheckResult{Name: "tool " + tool, OK: true, Detail: "found"}
		if err := preflight.Check(lookPath, tool); err != nil {
			r.OK, r.Detail = false, err.Error()
		} else if path, err := lookPath(tool); err == nil {
			r.Detail = path
		}
		results = append(results, r)
	}

	if err := loadConfig(cmd, cfg); err != nil {
		return append(results, CheckResult{Name: "configuration", Detail: err.Error()})
	}
	profile, _ := cfg.Profile()
	results = append(results, CheckResult{
		Name:   "configuration",
		OK:     true,
		Detail: fmt.Sprintf("env %s, secrets %s and %s", profile.Name, profile.ElasticsearchSecret(), profile.APIKeySecret()),
	})

	ctx := cmd.Context()
	results = append(results, checkProject(ctx, cfg), checkSecretManager(ctx, cfg))
	return results
}

func checkProject(ctx context.Context, cfg *config.Config) CheckResult {
	r := CheckResult{Name: "project"}
	checker, err := newProjectChecker(ctx, clientConfig(cfg.Settings))
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	defer func() { _ = checker.Close() }()

	exists, err := checker.Exists(ctx, cfg.Settings.ProjectID)
	switch {
	case err != nil:
		r.Detail = err.Error()
	case !exists:
		r.Detail = fmt.Sprintf("project %s not found or not active", cfg.Settings.ProjectID)
	default:
		r.OK, r.Detail = true, cfg.Settings.ProjectID
	}
	return r
}

func checkSecretManager(ctx context.Context, cfg *config.Config) CheckResult {
	r := CheckResult{Name: "secret manager"}
	client, err := newSecretClient(ctx, clientConfig(cfg.Settings))
	if err != nil {
		r.Detail = err.Error()
		return r
	}
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx, cfg.Settings.ProjectID); err != nil {
		r.Detail = err.Error()
		return r
	}
	r.OK, r.Detail = true, "reachable"
	return r
}

func displayCheckResults(out io.Writer, results []CheckResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "FAIL"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, status, firstLine(r.Detail))
	}
	_ = w.Flush()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
