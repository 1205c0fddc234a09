package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	skerrors "github.com/skylight-social/skyops/internal/errors"
)

//go:embed profiles.yaml
var defaultProfiles []byte

// Profile holds every resource name derived from one environment tag.
type Profile struct {
	Name          string   `yaml:"-"`
	SecretSuffix  string   `yaml:"secretSuffix"`
	Cluster       string   `yaml:"cluster"`
	Namespace     string   `yaml:"namespace"`
	Elasticsearch string   `yaml:"elasticsearch"`
	Pod           string   `yaml:"pod"`
	Container     string   `yaml:"container,omitempty"`
	ServiceAcct   string   `yaml:"serviceAccount"`
	Service       string   `yaml:"service"`
	VPCConnector  string   `yaml:"vpcConnector"`
	IndexPatterns []string `yaml:"indexPatterns,omitempty"`
}

// ElasticsearchSecret is the Secret Manager name for the minted Elasticsearch key.
func (p Profile) ElasticsearchSecret() string {
	return "elasticsearch-api-key" + p.SecretSuffix
}

// APIKeySecret is the Secret Manager name for the service API key.
func (p Profile) APIKeySecret() string {
	return "api-key" + p.SecretSuffix
}

// CredentialSecret is the Kubernetes secret ECK creates for the elastic user.
func (p Profile) CredentialSecret() string {
	return p.Elasticsearch + "-es-elastic-user"
}

// ElasticsearchContainer returns the container to exec into.
func (p Profile) ElasticsearchContainer() string {
	if p.Container == "" {
		return "elasticsearch"
	}
	return p.Container
}

// ServiceAccountEmail returns the runtime identity that reads the secrets.
func (p Profile) ServiceAccountEmail(projectID string) string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", p.ServiceAcct, projectID)
}

// ProfileTable maps environment tags to profiles.
type ProfileTable struct {
	Default       string             `yaml:"default"`
	IndexPatterns []string           `yaml:"indexPatterns"`
	Profiles      map[string]Profile `yaml:"profiles"`
}

// DefaultProfiles returns the built-in table.
func DefaultProfiles() (*ProfileTable, error) {
	return ParseProfiles(defaultProfiles)
}

// LoadProfiles reads a table from path, or the built-in one when path is empty.
func LoadProfiles(path string) (*ProfileTable, error) {
	if path == "" {
		return DefaultProfiles()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, skerrors.ConfigError{
			Field:      "profiles_file",
			Value:      path,
			Message:    "cannot read profiles file",
			Suggestion: "Check the path passed to --profiles-file",
		}
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes and validates a YAML profile table.
func ParseProfiles(data []byte) (*ProfileTable, error) {
	var table ProfileTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, skerrors.ConfigError{
			Message:    "invalid YAML in profiles table",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
		}
	}

	for name, p := range table.Profiles {
		p.Name = name
		if len(p.IndexPatterns) == 0 {
			p.IndexPatterns = table.IndexPatterns
		}
		table.Profiles[name] = p
	}

	if err := table.validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (t *ProfileTable) validate() error {
	if _, ok := t.Profiles[t.Default]; !ok {
		return skerrors.ConfigError{
			Field:   "default",
			Value:   t.Default,
			Message: "default environment has no profile",
		}
	}

	for _, name := range t.Names() {
		p := t.Profiles[name]
		if name == t.Default && p.SecretSuffix != "" {
			return skerrors.ConfigError{
				Field:   "profiles." + name + ".secretSuffix",
				Value:   p.SecretSuffix,
				Message: "the default environment uses unsuffixed secret names",
			}
		}
		if name != t.Default && p.SecretSuffix == "" {
			return skerrors.ConfigError{
				Field:   "profiles." + name + ".secretSuffix",
				Message: "non-default environments need a secret suffix",
			}
		}

		missing := []string{}
		for field, value := range map[string]string{
			"cluster":        p.Cluster,
			"namespace":      p.Namespace,
			"elasticsearch":  p.Elasticsearch,
			"pod":            p.Pod,
			"serviceAccount": p.ServiceAcct,
		} {
			if value == "" {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return skerrors.ConfigError{
				Field:   "profiles." + name,
				Message: "missing " + strings.Join(missing, ", "),
			}
		}
		if len(p.IndexPatterns) == 0 {
			return skerrors.ConfigError{
				Field:   "profiles." + name + ".indexPatterns",
				Message: "at least one index pattern is required",
			}
		}
	}
	return nil
}

// Names returns the environment tags in sorted order.
func (t *ProfileTable) Names() []string {
	names := make([]string, 0, len(t.Profiles))
	for name := range t.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the profile for an environment tag.
func (t *ProfileTable) Lookup(env string) (Profile, error) {
	p, ok := t.Profiles[env]
	if !ok {
		return Profile{}, skerrors.ConfigError{
			Field:      "environment",
			Value:      env,
			Message:    "unknown environment",
			Suggestion: fmt.Sprintf("Available environments: %s", strings.Join(t.Names(), ", ")),
		}
	}
	return p, nil
}
