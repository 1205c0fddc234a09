package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/logging"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("project", "", "")
	fs.String("region", "", "")
	fs.String("env", "", "")
	fs.String("elasticsearch-api-key", "", "")
	fs.String("api-key", "", "")
	fs.Bool("skip-es-fetch", false, "")
	fs.String("elasticsearch-url", "", "")
	fs.String("keyring-service", "", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range flagKeys {
		t.Setenv(strings.ToUpper(key), "")
		require.NoError(t, os.Unsetenv(strings.ToUpper(key)))
	}
}

func TestLoadFromFlags(t *testing.T) {
	clearEnv(t)

	cfg := &Config{Logger: logging.Discard()}
	err := cfg.Load(newFlags(t, "--project", "skylight-123", "--env", "prod", "--skip-es-fetch"))
	require.NoError(t, err)

	assert.Equal(t, "skylight-123", cfg.Settings.ProjectID)
	assert.Equal(t, "us-central1", cfg.Settings.Region)
	assert.Equal(t, "prod", cfg.Settings.Environment)
	assert.True(t, cfg.Settings.SkipESFetch)
	assert.False(t, cfg.Settings.FetchESKey())

	p, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, "prod", p.Name)
}

func TestLoadEnvironmentVariablesMirrorFlags(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "env-project")
	t.Setenv("REGION", "europe-west1")
	t.Setenv("ELASTICSEARCH_API_KEY", "supplied-key")

	cfg := &Config{}
	require.NoError(t, cfg.Load(newFlags(t)))

	assert.Equal(t, "env-project", cfg.Settings.ProjectID)
	assert.Equal(t, "europe-west1", cfg.Settings.Region)
	assert.Equal(t, "stage", cfg.Settings.Environment, "falls back to the default environment")
	assert.Equal(t, "supplied-key", cfg.Settings.ElasticsearchAPIKey)
	assert.False(t, cfg.Settings.FetchESKey())
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROJECT_ID", "env-project")

	cfg := &Config{}
	require.NoError(t, cfg.Load(newFlags(t, "--project", "flag-project")))
	assert.Equal(t, "flag-project", cfg.Settings.ProjectID)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "skyops.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project_id: file-project\nenvironment: prod\nfail_on_degrade: true\n"), 0o600))

	cfg := &Config{Path: path}
	require.NoError(t, cfg.Load(newFlags(t)))

	assert.Equal(t, "file-project", cfg.Settings.ProjectID)
	assert.Equal(t, "prod", cfg.Settings.Environment)
	assert.True(t, cfg.Settings.FailOnDegrade)
}

func TestLoadMissingConfigFileIsFine(t *testing.T) {
	clearEnv(t)

	cfg := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	require.NoError(t, cfg.Load(newFlags(t, "--project", "p")))
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantField string
	}{
		{name: "missing project", args: nil, wantField: "project_id"},
		{name: "placeholder project", args: []string{"--project", "your-project-id"}, wantField: "project_id"},
		{name: "placeholder api key", args: []string{"--project", "p", "--api-key", "your-api-key"}, wantField: "api_key"},
		{name: "bad url", args: []string{"--project", "p", "--elasticsearch-url", "not a url"}, wantField: "elasticsearch_url"},
		{name: "unknown environment", args: []string{"--project", "p", "--env", "qa"}, wantField: "environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			cfg := &Config{}
			err := cfg.Load(newFlags(t, tt.args...))
			require.Error(t, err)
			assert.ErrorIs(t, err, skerrors.ErrConfigurationInvalid)

			var ce skerrors.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantField, ce.Field)
			assert.Nil(t, cfg.Settings)
		})
	}
}

func TestLoadAPIKeyFromKeyring(t *testing.T) {
	clearEnv(t)
	keyring.MockInit()
	require.NoError(t, keyring.Set("skyops", "api-key-prod", "from-keyring"))

	cfg := &Config{}
	require.NoError(t, cfg.Load(newFlags(t, "--project", "p", "--env", "prod", "--keyring-service", "skyops")))
	assert.Equal(t, "from-keyring", cfg.Settings.APIKey)

	cfg = &Config{}
	require.NoError(t, cfg.Load(newFlags(t, "--project", "p", "--env", "stage", "--keyring-service", "skyops")))
	assert.Empty(t, cfg.Settings.APIKey, "missing keyring entry is not an error")
}

func TestProfileBeforeLoad(t *testing.T) {
	t.Parallel()

	_, err := (&Config{}).Profile()
	assert.Error(t, err)
}
