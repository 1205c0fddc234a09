package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylight-social/skyops/internal/config"
	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/keymint"
	"github.com/skylight-social/skyops/internal/logging"
	"github.com/skylight-social/skyops/internal/secretsync"
	"github.com/skylight-social/skyops/internal/testutil"
)

const (
	project     = "proj"
	prodGrantee = "serviceAccount:api-runner-prod@proj.iam.gserviceaccount.com"
	encodedKey  = "VnVhQ2ZHY0JDZGJrUW0tZTVhT3g6dWkybHAyYXhUTm1zeWFrdzl0dk5udw=="
)

func newConfig(t *testing.T, env string, mutate func(*config.Settings)) *config.Config {
	t.Helper()
	profiles, err := config.DefaultProfiles()
	require.NoError(t, err)
	s := &config.Settings{
		ProjectID:             project,
		Region:                "us-central1",
		Environment:           env,
		ElasticsearchInsecure: true,
	}
	if mutate != nil {
		mutate(s)
	}
	return &config.Config{Logger: logging.Discard(), Settings: s, Profiles: profiles}
}

func allTools(name string) (string, error) { return "/usr/bin/" + name, nil }

type harness struct {
	exec    *testutil.MockCommandExecutor
	store   *testutil.FakeSecretManager
	metrics *Metrics
}

func newHarness() *harness {
	return &harness{
		exec:    testutil.NewMockCommandExecutor(),
		store:   testutil.NewFakeSecretManager(),
		metrics: NewMetrics(),
	}
}

func (h *harness) run(t *testing.T, cfg *config.Config) (*Report, error) {
	t.Helper()
	w, err := New(cfg, Deps{
		Executor: h.exec,
		Secrets:  h.store,
		LookPath: allTools,
		Metrics:  h.metrics,
		Now:      func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return w.Run(context.Background())
}

func (h *harness) prodCluster(password string) {
	h.exec.AddResponse("gcloud container clusters get-credentials skylight-prod", testutil.MockResponse{})
	h.exec.AddJSONResponse("kubectl get secret elasticsearch-prod-es-elastic-user -n elastic",
		testutil.ElasticUserSecret("elasticsearch-prod-es-elastic-user", password))
}

func TestRunProdEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.prodCluster("s3cr3t")
	h.exec.AddJSONResponse("kubectl exec -i -n elastic elasticsearch-prod-es-default-0",
		testutil.APIKeyResponse("skylight-api-prod-20261015-090000", encodedKey))

	report, err := h.run(t, newConfig(t, "prod", func(s *config.Settings) { s.APIKey = "service-api-key" }))
	require.NoError(t, err)
	require.NoError(t, report.Err(true))

	es, ok := report.Outcome("elasticsearch-api-key-prod")
	require.True(t, ok)
	assert.Equal(t, SourceMinted, es.Source)
	assert.Equal(t, StatusCreated, es.Status)
	assert.True(t, es.Granted)

	api, ok := report.Outcome("api-key-prod")
	require.True(t, ok)
	assert.Equal(t, SourceSupplied, api.Source)
	assert.Equal(t, StatusCreated, api.Status)

	got, ok := h.store.Latest(project, "elasticsearch-api-key-prod")
	require.True(t, ok)
	assert.Equal(t, encodedKey, got)
	assert.Equal(t, []string{prodGrantee}, h.store.Members(project, "elasticsearch-api-key-prod", secretsync.AccessorRole))
	assert.Equal(t, []string{prodGrantee}, h.store.Members(project, "api-key-prod", secretsync.AccessorRole))

	calls := h.exec.GetCalls("kubectl exec")
	require.Len(t, calls, 1)
	assert.Contains(t, string(calls[0].Stdin), `"posts*"`)
	assert.Contains(t, string(calls[0].Stdin), `"likes*"`)
	assert.Contains(t, string(calls[0].Stdin), `"skylight-api-prod-20261015-090000"`)
	assert.Contains(t, calls[0].Args, "elastic:s3cr3t")

	assert.Equal(t, 1.0, promtestutil.ToFloat64(h.metrics.results.WithLabelValues("prod", StageMint, "ok")))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(h.metrics.results.WithLabelValues("prod", StagePersist, "created")))
}

func TestRunStageUsesUnsuffixedNames(t *testing.T) {
	t.Parallel()

	h := newHarness()
	report, err := h.run(t, newConfig(t, "stage", func(s *config.Settings) {
		s.ElasticsearchAPIKey = "supplied-es-key"
		s.APIKey = "supplied-api-key"
	}))
	require.NoError(t, err)

	for _, name := range []string{"elasticsearch-api-key", "api-key"} {
		o, ok := report.Outcome(name)
		require.True(t, ok, name)
		assert.Equal(t, SourceSupplied, o.Source)
		assert.Equal(t, []string{"serviceAccount:api-runner-stage@proj.iam.gserviceaccount.com"},
			h.store.Members(project, name, secretsync.AccessorRole))
	}
	assert.Zero(t, h.exec.CallCount(), "a supplied key never touches the cluster")
}

func TestRunUndecodablePasswordNeverIssuesKey(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.exec.AddResponse("gcloud container clusters get-credentials skylight-prod", testutil.MockResponse{})
	h.exec.AddJSONResponse("kubectl get secret elasticsearch-prod-es-elastic-user", `{"data":{"elastic":"%%%not-base64"}}`)
	h.store.AddSecretString(project, "api-key-prod", "existing")

	report, err := h.run(t, newConfig(t, "prod", nil))
	require.NoError(t, err)

	h.exec.AssertNotCalled(t, "kubectl exec")

	es, _ := report.Outcome("elasticsearch-api-key-prod")
	assert.Equal(t, SourceDegraded, es.Source)
	assert.Equal(t, StatusMissing, es.Status)
	assert.ErrorIs(t, es.Cause, skerrors.ErrCredentialNotFound)

	api, _ := report.Outcome("api-key-prod")
	assert.Equal(t, StatusVerified, api.Status, "API key stage still runs")
	assert.True(t, api.Granted)

	assert.NoError(t, report.Err(false), "degraded runs succeed by default")
	err = report.Err(true)
	assert.ErrorIs(t, err, skerrors.ErrKeyIssuanceFailed)
	assert.ErrorIs(t, err, skerrors.ErrCredentialNotFound)
	assert.Equal(t, "degraded", report.Status())
}

func TestRunClusterUnreachable(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.exec.AddErrorResponse("gcloud container clusters get-credentials", "ERROR: (gcloud.container.clusters.get-credentials) ResponseError: code=404", 1)

	report, err := h.run(t, newConfig(t, "prod", nil))
	require.NoError(t, err)

	h.exec.AssertNotCalled(t, "kubectl")
	es, _ := report.Outcome("elasticsearch-api-key-prod")
	assert.ErrorIs(t, es.Cause, skerrors.ErrClusterUnreachable)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(h.metrics.results.WithLabelValues("prod", StageAcquire, "ClusterUnreachable")))
}

func TestRunMissingEncodedFieldPersistsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.prodCluster("s3cr3t")
	h.exec.AddJSONResponse("kubectl exec", `{"error":{"root_cause":[{"type":"security_exception"}]},"status":403}`)
	h.store.AddSecretString(project, "elasticsearch-api-key-prod", "previous-key")

	report, err := h.run(t, newConfig(t, "prod", nil))
	require.NoError(t, err)

	assert.Empty(t, h.store.CallsTo("AddSecretVersion"))
	got, _ := h.store.Latest(project, "elasticsearch-api-key-prod")
	assert.Equal(t, "previous-key", got)

	es, _ := report.Outcome("elasticsearch-api-key-prod")
	assert.Equal(t, SourceDegraded, es.Source)
	assert.Equal(t, StatusVerified, es.Status)
	assert.ErrorIs(t, es.Cause, skerrors.ErrKeyIssuanceFailed)

	api, _ := report.Outcome("api-key-prod")
	assert.Equal(t, StatusMissing, api.Status)
	assert.NoError(t, report.Err(false))
}

func TestRunOneSecretFailureDoesNotBlockTheOther(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.store.Errors["CreateSecret "+testutil.SecretName(project, "elasticsearch-api-key-prod")] =
		testutil.GCPPermissionDeniedError("Permission 'secretmanager.secrets.create' denied")

	report, err := h.run(t, newConfig(t, "prod", func(s *config.Settings) {
		s.ElasticsearchAPIKey = "supplied-es-key"
		s.APIKey = "supplied-api-key"
	}))
	require.NoError(t, err)

	es, _ := report.Outcome("elasticsearch-api-key-prod")
	assert.Equal(t, StatusFailed, es.Status)
	assert.ErrorIs(t, es.Err, skerrors.ErrSecretPersistenceFailed)

	api, _ := report.Outcome("api-key-prod")
	assert.Equal(t, StatusCreated, api.Status)
	got, _ := h.store.Latest(project, "api-key-prod")
	assert.Equal(t, "supplied-api-key", got)

	err = report.Err(false)
	require.ErrorIs(t, err, skerrors.ErrSecretPersistenceFailed)
	assert.Contains(t, err.Error(), "1 of 2 secrets")
	assert.Equal(t, "failed", report.Status())
}

func TestRunPrerequisiteMissingAbortsBeforeMutation(t *testing.T) {
	t.Parallel()

	h := newHarness()
	w, err := New(newConfig(t, "prod", nil), Deps{
		Executor: h.exec,
		Secrets:  h.store,
		LookPath: func(name string) (string, error) {
			if name == "kubectl" {
				return "", errors.New("executable file not found in $PATH")
			}
			return "/usr/bin/" + name, nil
		},
	})
	require.NoError(t, err)

	_, err = w.Run(context.Background())
	require.ErrorIs(t, err, skerrors.ErrPrerequisiteMissing)
	assert.Zero(t, h.exec.CallCount())
	assert.Empty(t, h.store.Calls)
}

func TestRunSkipFetchNeedsNoTools(t *testing.T) {
	t.Parallel()

	h := newHarness()
	w, err := New(newConfig(t, "prod", func(s *config.Settings) { s.SkipESFetch = true }), Deps{
		Executor: h.exec,
		Secrets:  h.store,
		LookPath: func(name string) (string, error) { return "", errors.New("not found") },
	})
	require.NoError(t, err)
	assert.Empty(t, w.RequiredTools())

	report, err := w.Run(context.Background())
	require.NoError(t, err)

	es, _ := report.Outcome("elasticsearch-api-key-prod")
	assert.Equal(t, SourceSkipped, es.Source)
	assert.Equal(t, StatusMissing, es.Status)
	assert.Zero(t, h.exec.CallCount())
}

func TestNewRejectsUnknownEnvironment(t *testing.T) {
	t.Parallel()

	_, err := New(newConfig(t, "qa", nil), Deps{Secrets: testutil.NewFakeSecretManager()})
	assert.ErrorIs(t, err, skerrors.ErrConfigurationInvalid)
}

func TestTransportSelection(t *testing.T) {
	t.Parallel()

	w, err := New(newConfig(t, "prod", nil), Deps{Secrets: testutil.NewFakeSecretManager()})
	require.NoError(t, err)
	assert.IsType(t, &keymint.ExecTransport{}, w.transport())

	w, err = New(newConfig(t, "prod", func(s *config.Settings) { s.ElasticsearchURL = "https://localhost:9200" }),
		Deps{Secrets: testutil.NewFakeSecretManager()})
	require.NoError(t, err)
	assert.IsType(t, &keymint.HTTPTransport{}, w.transport())
}

func TestMetricsWriteTextfile(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.Observe("prod", StagePersist, "created", 250*time.Millisecond)
	m.Finished("prod", "ok", time.Unix(1760000000, 0))

	path := filepath.Join(t.TempDir(), "skyops.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `skyops_bootstrap_stage_total{environment="prod",result="created",stage="persist"} 1`)
	assert.Contains(t, string(data), "skyops_bootstrap_last_run_timestamp_seconds")

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.Observe("prod", StageMint, "ok", time.Second) })
	assert.NoError(t, nilMetrics.WriteTextfile(path))
}
