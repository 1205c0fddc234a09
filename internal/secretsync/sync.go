package secretsync

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/iam/apiv1/iampb"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/logging"
)

// AccessorRole lets the runtime service account read secret payloads.
const AccessorRole = "roles/secretmanager.secretAccessor"

// policyRetries bounds read-modify-write attempts on etag conflicts.
const policyRetries = 3

// Action says what Sync did to the secret.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// SyncResult describes a successful Sync.
type SyncResult struct {
	Secret  string
	Action  Action
	Version string
	Granted bool
}

// AccessResult describes a VerifyAccess call.
type AccessResult struct {
	Secret  string
	Exists  bool
	Granted bool
}

// Synchronizer persists values into one project's Secret Manager.
type Synchronizer struct {
	api     API
	project string
	logger  *logging.Logger
	labels  map[string]string
}

// New creates a Synchronizer for project.
func New(api API, project string, logger *logging.Logger) *Synchronizer {
	return &Synchronizer{
		api:     api,
		project: project,
		logger:  logger,
		labels:  map[string]string{"managed-by": "skyops"},
	}
}

// Member renders the IAM member string for a service account email.
func Member(serviceAccount string) string {
	return "serviceAccount:" + serviceAccount
}

func (s *Synchronizer) resource(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.project, name)
}

// Exists reports whether the secret is present.
func (s *Synchronizer) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.api.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: s.resource(name)})
	switch {
	case err == nil:
		return true, nil
	case status.Code(err) == codes.NotFound:
		return false, nil
	default:
		return false, persistenceError(name, "cannot describe secret", err)
	}
}

// Sync creates the secret with value as its first version, or adds value as
// a new version, then grants grantee read access. Running it twice leaves the
// secret with the latest value and a single binding.
func (s *Synchronizer) Sync(ctx context.Context, name string, value []byte, grantee string) (*SyncResult, error) {
	if len(bytes.TrimSpace(value)) == 0 {
		return nil, &skerrors.Error{
			Kind:    skerrors.SecretPersistenceFailed,
			Message: fmt.Sprintf("refusing to store an empty value in %s", name),
		}
	}

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Secret: name, Action: ActionUpdated}
	if !exists {
		s.logger.Step("Creating secret %s", name)
		if err := s.create(ctx, name); err != nil {
			return nil, err
		}
		result.Action = ActionCreated
	} else {
		s.logger.Step("Secret %s exists, adding a new version", name)
	}

	version, err := s.api.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.resource(name),
		Payload: &secretmanagerpb.SecretPayload{Data: value},
	})
	if err != nil {
		return nil, persistenceError(name, "cannot add secret version", err)
	}
	result.Version = versionID(version.GetName())

	granted, err := s.Grant(ctx, name, grantee)
	if err != nil {
		return result, err
	}
	result.Granted = granted

	s.logger.Info("Secret %s %s (version %s)", name, result.Action, result.Version)
	return result, nil
}

func (s *Synchronizer) create(ctx context.Context, name string) error {
	_, err := s.api.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   "projects/" + s.project,
		SecretId: name,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
			Labels: s.labels,
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return persistenceError(name, "cannot create secret", err)
	}
	return nil
}

// Grant ensures grantee holds AccessorRole on the secret. It returns false
// when the binding was already present.
func (s *Synchronizer) Grant(ctx context.Context, name, grantee string) (bool, error) {
	member := Member(grantee)
	resource := s.resource(name)

	var lastErr error
	for attempt := 0; attempt < policyRetries; attempt++ {
		policy, err := s.api.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{Resource: resource})
		if err != nil {
			return false, persistenceError(name, "cannot read IAM policy", err)
		}
		if !addMember(policy, AccessorRole, member) {
			s.logger.Debug("%s already has %s on %s", member, AccessorRole, name)
			return false, nil
		}

		_, err = s.api.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{Resource: resource, Policy: policy})
		if err == nil {
			s.logger.Info("Granted %s on %s to %s", AccessorRole, name, member)
			return true, nil
		}
		if status.Code(err) != codes.Aborted {
			return false, persistenceError(name, "cannot grant access", err)
		}
		s.logger.Debug("IAM policy on %s changed concurrently, retrying", name)
		lastErr = err
	}
	return false, persistenceError(name, "cannot grant access", lastErr)
}

// VerifyAccess handles a secret whose value is not supplied in this run: a
// missing secret is reported, an existing one gets its grant ensured.
func (s *Synchronizer) VerifyAccess(ctx context.Context, name, grantee string) (*AccessResult, error) {
	result := &AccessResult{Secret: name}

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.logger.Warn("Secret %s does not exist and no value was supplied", name)
		return result, nil
	}
	result.Exists = true

	granted, err := s.Grant(ctx, name, grantee)
	if err != nil {
		return result, err
	}
	result.Granted = granted
	return result, nil
}

// Latest reads the newest payload of a secret.
func (s *Synchronizer) Latest(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.api.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.resource(name) + "/versions/latest",
	})
	if err != nil {
		return nil, persistenceError(name, "cannot access latest version", err)
	}
	return resp.GetPayload().GetData(), nil
}

// addMember adds member to role in policy, reporting whether it changed.
func addMember(policy *iampb.Policy, role, member string) bool {
	for _, b := range policy.GetBindings() {
		if b.GetRole() != role || b.GetCondition() != nil {
			continue
		}
		for _, m := range b.GetMembers() {
			if m == member {
				return false
			}
		}
		b.Members = append(b.Members, member)
		return true
	}
	policy.Bindings = append(policy.Bindings, &iampb.Binding{Role: role, Members: []string{member}})
	return true
}

func versionID(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func persistenceError(name, msg string, err error) error {
	return &skerrors.Error{
		Kind:       skerrors.SecretPersistenceFailed,
		Message:    fmt.Sprintf("%s %s", msg, name),
		Err:        err,
		Suggestion: suggestion(err),
	}
}

func suggestion(err error) string {
	switch status.Code(err) {
	case codes.PermissionDenied:
		return "Check IAM permissions: secretmanager.secrets.create, secretmanager.versions.add, secretmanager.secrets.setIamPolicy"
	case codes.Unauthenticated:
		return "Run 'gcloud auth application-default login' or set GOOGLE_APPLICATION_CREDENTIALS"
	case codes.NotFound:
		return "Verify the project ID and that the Secret Manager API is enabled"
	case codes.ResourceExhausted:
		return "Request was throttled; retry shortly"
	default:
		return ""
	}
}
