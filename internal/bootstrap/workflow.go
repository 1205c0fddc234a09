// Package bootstrap runs the secret provisioning workflow for one
// environment: the Elasticsearch key first, then the service API key.
package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/skylight-social/skyops/internal/cluster"
	"github.com/skylight-social/skyops/internal/config"
	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/keymint"
	"github.com/skylight-social/skyops/internal/logging"
	"github.com/skylight-social/skyops/internal/preflight"
	"github.com/skylight-social/skyops/internal/secretsync"
	pkgexec "github.com/skylight-social/skyops/pkg/exec"
)

// Deps are the external collaborators of a run. Zero fields fall back to
// real implementations, except Secrets which is required.
type Deps struct {
	Executor pkgexec.CommandExecutor
	Secrets  secretsync.API
	// Transport overrides the Elasticsearch transport picked from settings.
	Transport keymint.Transport
	LookPath  preflight.LookPathFunc
	Metrics   *Metrics
	Now       func() time.Time
}

// Workflow provisions the secrets of one environment.
type Workflow struct {
	settings *config.Settings
	profile  config.Profile
	deps     Deps
	logger   *logging.Logger
}

// New prepares a workflow from loaded configuration.
func New(cfg *config.Config, deps Deps) (*Workflow, error) {
	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}
	if deps.Secrets == nil {
		return nil, skerrors.UserError{Message: "no secret store client configured"}
	}
	if deps.Executor == nil {
		deps.Executor = pkgexec.DefaultExecutor()
	}
	if deps.LookPath == nil {
		deps.LookPath = pkgexec.LookPath
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Workflow{settings: cfg.Settings, profile: profile, deps: deps, logger: logger}, nil
}

// RequiredTools lists the binaries the run shells out to.
func (w *Workflow) RequiredTools() []string {
	if !w.settings.FetchESKey() {
		return nil
	}
	return []string{"gcloud", "kubectl"}
}

// Run executes the workflow. The returned error is non-nil only when the
// run was refused before any mutation; per-secret failures are recorded in
// the Report.
func (w *Workflow) Run(ctx context.Context) (*Report, error) {
	env := w.settings.Environment
	report := &Report{Project: w.settings.ProjectID, Environment: env}

	start := time.Now()
	if err := preflight.Check(w.deps.LookPath, w.RequiredTools()...); err != nil {
		w.deps.Metrics.Observe(env, StagePreflight, "error", time.Since(start))
		return report, err
	}
	w.deps.Metrics.Observe(env, StagePreflight, "ok", time.Since(start))

	w.logger.Step("Provisioning secrets for %s in project %s", env, w.settings.ProjectID)

	syncer := secretsync.New(w.deps.Secrets, w.settings.ProjectID, w.logger)
	grantee := w.profile.ServiceAccountEmail(w.settings.ProjectID)

	value, source, cause := w.elasticsearchKey(ctx)
	report.add(w.persist(ctx, syncer, w.profile.ElasticsearchSecret(), value, source, cause, grantee))

	apiSource := SourceNone
	if w.settings.APIKey != "" {
		apiSource = SourceSupplied
	}
	report.add(w.persist(ctx, syncer, w.profile.APIKeySecret(), w.settings.APIKey, apiSource, nil, grantee))

	w.deps.Metrics.Finished(env, report.Status(), w.deps.Now())
	return report, nil
}

// elasticsearchKey returns the supplied key, or mints one. Acquisition and
// issuance errors come back as a degraded source, never as a run failure.
func (w *Workflow) elasticsearchKey(ctx context.Context) (string, Source, error) {
	switch {
	case w.settings.ElasticsearchAPIKey != "":
		w.logger.Debug("Using supplied Elasticsearch API key")
		return w.settings.ElasticsearchAPIKey, SourceSupplied, nil
	case w.settings.SkipESFetch:
		w.logger.Warn("Elasticsearch key fetch skipped and no key supplied")
		return "", SourceSkipped, nil
	}

	env := w.settings.Environment

	start := time.Now()
	cred, err := cluster.NewAcquirer(w.deps.Executor, w.logger).Acquire(ctx, cluster.Request{
		Cluster: cluster.CredentialsRequest{
			Cluster: w.profile.Cluster,
			Region:  w.settings.Region,
			Project: w.settings.ProjectID,
		},
		Secret: cluster.SecretRequest{
			Name:      w.profile.CredentialSecret(),
			Namespace: w.profile.Namespace,
		},
	})
	if err != nil {
		w.deps.Metrics.Observe(env, StageAcquire, skerrors.KindOf(err).String(), time.Since(start))
		w.logger.Warn("Could not acquire Elasticsearch credential: %v", err)
		return "", SourceDegraded, err
	}
	defer cred.Destroy()
	w.deps.Metrics.Observe(env, StageAcquire, "ok", time.Since(start))

	start = time.Now()
	key, err := keymint.New(w.transport(), w.logger).
		WithClock(w.deps.Now).
		Mint(ctx, cred, env, w.profile.IndexPatterns)
	if err != nil {
		w.deps.Metrics.Observe(env, StageMint, skerrors.KindOf(err).String(), time.Since(start))
		w.logger.Warn("Could not issue Elasticsearch API key: %v", err)
		var kerr *skerrors.Error
		if w.logger.DebugEnabled() && errors.As(err, &kerr) && kerr.Raw != "" {
			w.logger.Debug("Raw response: %s", logging.Redact(kerr.Raw, w.knownSecrets()))
		}
		return "", SourceDegraded, err
	}
	w.deps.Metrics.Observe(env, StageMint, "ok", time.Since(start))
	return key.Encoded, SourceMinted, nil
}

// knownSecrets lists the supplied secret values kept out of diagnostics.
func (w *Workflow) knownSecrets() []string {
	return []string{w.settings.APIKey, w.settings.ElasticsearchAPIKey}
}

func (w *Workflow) transport() keymint.Transport {
	if w.deps.Transport != nil {
		return w.deps.Transport
	}
	if w.settings.ElasticsearchURL != "" {
		return keymint.NewHTTPTransport(w.settings.ElasticsearchURL, w.settings.ElasticsearchInsecure)
	}
	return keymint.NewExecTransport(w.deps.Executor, keymint.PodTarget{
		Namespace: w.profile.Namespace,
		Pod:       w.profile.Pod,
		Container: w.profile.ElasticsearchContainer(),
	})
}

// persist writes value, or falls back to verifying access when there is no
// value to write.
func (w *Workflow) persist(ctx context.Context, syncer *secretsync.Synchronizer, secret, value string, source Source, cause error, grantee string) Outcome {
	env := w.settings.Environment
	outcome := Outcome{Secret: secret, Source: source, Cause: cause}

	if value == "" {
		start := time.Now()
		res, err := syncer.VerifyAccess(ctx, secret, grantee)
		switch {
		case err != nil:
			outcome.Status, outcome.Err = StatusFailed, err
			w.logger.Warn("Could not verify access to %s: %v", secret, err)
		case !res.Exists:
			outcome.Status = StatusMissing
		default:
			outcome.Status, outcome.Granted = StatusVerified, res.Granted
		}
		w.deps.Metrics.Observe(env, StageVerifyGrant, string(outcome.Status), time.Since(start))
		return outcome
	}

	start := time.Now()
	res, err := syncer.Sync(ctx, secret, []byte(value), grantee)
	if err != nil {
		outcome.Status, outcome.Err = StatusFailed, err
		w.logger.Warn("Could not store %s: %v", secret, err)
	} else {
		outcome.Version, outcome.Granted = res.Version, res.Granted
		outcome.Status = StatusUpdated
		if res.Action == secretsync.ActionCreated {
			outcome.Status = StatusCreated
		}
	}
	w.deps.Metrics.Observe(env, StagePersist, string(outcome.Status), time.Since(start))
	return outcome
}
