package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/logging"
)

// Config holds the runtime configuration
type Config struct {
	Path     string
	Logger   *logging.Logger
	Settings *Settings
	Profiles *ProfileTable
}

// Settings is everything the bootstrap stages read. It replaces the
// environment variables the shell scripts consulted implicitly.
type Settings struct {
	ProjectID   string `mapstructure:"project_id" validate:"required"`
	Region      string `mapstructure:"region" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`

	ElasticsearchAPIKey string `mapstructure:"elasticsearch_api_key"`
	APIKey              string `mapstructure:"api_key"`
	SkipESFetch         bool   `mapstructure:"skip_es_fetch"`
	FailOnDegrade       bool   `mapstructure:"fail_on_degrade"`

	ElasticsearchURL          string `mapstructure:"elasticsearch_url" validate:"omitempty,url"`
	ElasticsearchInsecure     bool   `mapstructure:"elasticsearch_insecure"`
	ImpersonateServiceAccount string `mapstructure:"impersonate_service_account" validate:"omitempty,email"`
	CredentialsFile           string `mapstructure:"credentials_file"`
	KeyringService            string `mapstructure:"keyring_service"`
	MetricsFile               string `mapstructure:"metrics_file"`
	ProfilesFile              string `mapstructure:"profiles_file"`
	StateDir                  string `mapstructure:"state_dir"`
}

// FetchESKey reports whether the Elasticsearch key should be minted.
func (s *Settings) FetchESKey() bool {
	return s.ElasticsearchAPIKey == "" && !s.SkipESFetch
}

// flagKeys maps CLI flag names to settings keys. Each key is also bound to
// the upper-cased environment variable of the same name.
var flagKeys = map[string]string{
	"project":                     "project_id",
	"region":                      "region",
	"env":                         "environment",
	"elasticsearch-api-key":       "elasticsearch_api_key",
	"api-key":                     "api_key",
	"skip-es-fetch":               "skip_es_fetch",
	"fail-on-degrade":             "fail_on_degrade",
	"elasticsearch-url":           "elasticsearch_url",
	"elasticsearch-insecure":      "elasticsearch_insecure",
	"impersonate-service-account": "impersonate_service_account",
	"credentials-file":            "credentials_file",
	"keyring-service":             "keyring_service",
	"metrics-file":                "metrics_file",
	"profiles-file":               "profiles_file",
	"state-dir":                   "state_dir",
}

// placeholders are values from the example env files that must be replaced.
var placeholders = map[string]bool{
	"your-project-id":            true,
	"<project-id>":               true,
	"PROJECT_ID":                 true,
	"your-elasticsearch-api-key": true,
	"your-api-key":               true,
	"changeme":                   true,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

var keyringGet = keyring.Get

// Load resolves settings from, in increasing precedence: defaults, the
// optional YAML file at Path, environment variables and explicitly set flags.
func (c *Config) Load(flags *pflag.FlagSet) error {
	v := viper.New()
	setDefaults(v)

	if c.Path != "" {
		if _, err := os.Stat(c.Path); err == nil {
			v.SetConfigFile(c.Path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return skerrors.ConfigError{
					Field:      "config",
					Value:      c.Path,
					Message:    "invalid YAML syntax in configuration file",
					Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
				}
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return skerrors.UserError{
				Message:    "Failed to read configuration file",
				Details:    err.Error(),
				Suggestion: "Check file permissions and path",
				Err:        err,
			}
		}
	}

	for _, key := range flagKeys {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}
	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return skerrors.ConfigError{Message: fmt.Sprintf("cannot decode settings: %v", err)}
	}

	profiles, err := LoadProfiles(s.ProfilesFile)
	if err != nil {
		return err
	}
	if s.Environment == "" {
		s.Environment = profiles.Default
	}

	c.loadKeyring(&s)

	if err := Validate(&s, profiles); err != nil {
		return err
	}

	c.Settings = &s
	c.Profiles = profiles
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("region", "us-central1")
	v.SetDefault("skip_es_fetch", false)
	v.SetDefault("fail_on_degrade", false)
	v.SetDefault("elasticsearch_insecure", true)
}

// loadKeyring fills the API key from the OS keyring when it was not
// supplied and a keyring service is configured.
func (c *Config) loadKeyring(s *Settings) {
	if s.APIKey != "" || s.KeyringService == "" {
		return
	}
	user := "api-key-" + s.Environment
	value, err := keyringGet(s.KeyringService, user)
	switch {
	case err == nil:
		s.APIKey = value
		c.logger().Debug("Loaded API key for %s from keyring service %s", s.Environment, s.KeyringService)
	case errors.Is(err, keyring.ErrNotFound):
		c.logger().Debug("No keyring entry %s/%s", s.KeyringService, user)
	default:
		c.logger().Warn("Keyring lookup failed: %v", err)
	}
}

func (c *Config) logger() *logging.Logger {
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c.Logger
}

// Validate checks settings before any external call is made.
func Validate(s *Settings, profiles *ProfileTable) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return skerrors.ConfigError{
				Field:      fe.Field(),
				Value:      fe.Value(),
				Message:    fmt.Sprintf("failed '%s' validation", fe.Tag()),
				Suggestion: suggestionFor(fe.Field()),
			}
		}
		return skerrors.ConfigError{Message: err.Error()}
	}

	for field, value := range map[string]string{
		"project_id":            s.ProjectID,
		"elasticsearch_api_key": s.ElasticsearchAPIKey,
		"api_key":               s.APIKey,
	} {
		if placeholders[value] {
			return skerrors.ConfigError{
				Field:      field,
				Value:      value,
				Message:    "placeholder value left unset",
				Suggestion: suggestionFor(field),
			}
		}
	}

	if _, err := profiles.Lookup(s.Environment); err != nil {
		return err
	}
	return nil
}

func suggestionFor(field string) string {
	for flag, key := range flagKeys {
		if key == field {
			return fmt.Sprintf("Pass --%s or set %s", flag, strings.ToUpper(key))
		}
	}
	return ""
}

// Profile returns the profile of the active environment.
func (c *Config) Profile() (Profile, error) {
	if c.Settings == nil || c.Profiles == nil {
		return Profile{}, skerrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}
	return c.Profiles.Lookup(c.Settings.Environment)
}
