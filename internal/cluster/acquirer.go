// Package cluster obtains the Elasticsearch superuser credential from the
// GKE cluster that runs the ECK-managed Elasticsearch.
package cluster

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/logging"
	"github.com/skylight-social/skyops/internal/secure"
	pkgexec "github.com/skylight-social/skyops/pkg/exec"
)

// ElasticUser is the ECK built-in superuser.
const ElasticUser = "elastic"

// CredentialsRequest identifies the cluster to fetch kube credentials for.
type CredentialsRequest struct {
	Cluster string
	Region  string
	Project string
}

// Validate checks every field is set.
func (r CredentialsRequest) Validate() error {
	if r.Cluster == "" || r.Region == "" || r.Project == "" {
		return skerrors.New(skerrors.ConfigurationInvalid,
			fmt.Sprintf("incomplete cluster credentials request %+v", r), nil)
	}
	return nil
}

// Args renders the gcloud invocation.
func (r CredentialsRequest) Args() []string {
	return []string{
		"container", "clusters", "get-credentials", r.Cluster,
		"--region", r.Region,
		"--project", r.Project,
	}
}

// SecretRequest identifies the namespaced Kubernetes secret and data key
// holding the password.
type SecretRequest struct {
	Name      string
	Namespace string
	Key       string
}

// Args renders the kubectl invocation.
func (r SecretRequest) Args() []string {
	return []string{"get", "secret", r.Name, "-n", r.Namespace, "-o", "json"}
}

// Request is one acquisition: cluster access plus the secret to read.
type Request struct {
	Cluster CredentialsRequest
	Secret  SecretRequest
}

// Credential is the superuser login. The password stays in an enclave.
type Credential struct {
	Username string
	password *secure.SecureBuffer
}

// NewCredential protects password. The slice is wiped.
func NewCredential(username string, password []byte) (*Credential, error) {
	buf, err := secure.NewSecureBuffer(password)
	if err != nil {
		return nil, err
	}
	return &Credential{Username: username, password: buf}, nil
}

// Use reveals the password for the duration of fn.
func (c *Credential) Use(fn func(username, password string) error) error {
	return c.password.Reveal(func(plain []byte) error {
		return fn(c.Username, string(plain))
	})
}

// Destroy drops the password.
func (c *Credential) Destroy() {
	if c != nil && c.password != nil {
		c.password.Destroy()
	}
}

// Acquirer runs gcloud and kubectl to read the credential.
type Acquirer struct {
	executor pkgexec.CommandExecutor
	logger   *logging.Logger
}

// NewAcquirer creates an Acquirer.
func NewAcquirer(executor pkgexec.CommandExecutor, logger *logging.Logger) *Acquirer {
	return &Acquirer{executor: executor, logger: logger}
}

type kubeSecret struct {
	Data map[string]string `json:"data"`
}

// Acquire points the local kube context at the cluster, then reads and
// decodes the password. It fails with ClusterUnreachable when the cluster
// cannot be reached and CredentialNotFound when the secret is missing or
// decodes to nothing.
func (a *Acquirer) Acquire(ctx context.Context, req Request) (*Credential, error) {
	if err := req.Cluster.Validate(); err != nil {
		return nil, err
	}

	a.logger.Step("Fetching credentials for cluster %s (%s)", req.Cluster.Cluster, req.Cluster.Region)
	args := req.Cluster.Args()
	if _, stderr, err := a.executor.Execute(ctx, "gcloud", args...); err != nil {
		return nil, &skerrors.Error{
			Kind:       skerrors.ClusterUnreachable,
			Message:    fmt.Sprintf("cannot get credentials for cluster %s", req.Cluster.Cluster),
			Suggestion: "Check that the cluster is deployed and that you have container.clusters.get on the project",
			Err:        skerrors.NewCommandError("gcloud", args, stderr, err),
		}
	}

	key := req.Secret.Key
	if key == "" {
		key = ElasticUser
	}

	a.logger.Debug("Reading secret %s/%s", req.Secret.Namespace, req.Secret.Name)
	args = req.Secret.Args()
	stdout, stderr, err := a.executor.Execute(ctx, "kubectl", args...)
	if err != nil {
		return nil, &skerrors.Error{
			Kind:    skerrors.CredentialNotFound,
			Message: fmt.Sprintf("cannot read secret %s in namespace %s", req.Secret.Name, req.Secret.Namespace),
			Err:     skerrors.NewCommandError("kubectl", args, stderr, err),
		}
	}

	password, err := decodePassword(stdout, key)
	if err != nil {
		return nil, &skerrors.Error{
			Kind:       skerrors.CredentialNotFound,
			Message:    fmt.Sprintf("secret %s has no usable %q entry", req.Secret.Name, key),
			Suggestion: "Verify the Elasticsearch resource name; ECK stores the password in <name>-es-elastic-user",
			Err:        err,
		}
	}

	cred, err := NewCredential(ElasticUser, password)
	if err != nil {
		return nil, skerrors.New(skerrors.CredentialNotFound, "cannot protect credential", err)
	}
	a.logger.Info("Retrieved %s credential from %s", ElasticUser, req.Cluster.Cluster)
	return cred, nil
}

func decodePassword(raw []byte, key string) ([]byte, error) {
	var secret kubeSecret
	if err := json.Unmarshal(raw, &secret); err != nil {
		return nil, fmt.Errorf("invalid secret JSON: %w", err)
	}
	encoded, ok := secret.Data[key]
	if !ok {
		return nil, fmt.Errorf("key %q not present", key)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(strings.TrimSpace(string(decoded))) == 0 {
		return nil, fmt.Errorf("decoded password is empty")
	}
	return decoded, nil
}
