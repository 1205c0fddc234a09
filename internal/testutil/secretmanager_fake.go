package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/iam/apiv1/iampb"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeSecretManager is an in-memory Secret Manager covering the calls the
// synchronizer makes.
type FakeSecretManager struct {
	mu sync.Mutex

	// Secrets maps full resource names (projects/X/secrets/Y) to secrets.
	Secrets map[string]*secretmanagerpb.Secret
	// Versions maps secret resource names to their payloads, oldest first.
	Versions map[string][][]byte
	// Policies maps secret resource names to IAM policies.
	Policies map[string]*iampb.Policy
	// Errors maps "Method resource" or "Method" to an error to return.
	Errors map[string]error
	// Calls records "Method resource" for every request.
	Calls []string
}

// NewFakeSecretManager creates an empty fake.
func NewFakeSecretManager() *FakeSecretManager {
	return &FakeSecretManager{
		Secrets:  make(map[string]*secretmanagerpb.Secret),
		Versions: make(map[string][][]byte),
		Policies: make(map[string]*iampb.Policy),
		Errors:   make(map[string]error),
	}
}

// SecretName builds projects/<project>/secrets/<secret>.
func SecretName(project, secret string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", project, secret)
}

// AddSecretString seeds a secret with one version.
func (f *FakeSecretManager) AddSecretString(project, secret, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := SecretName(project, secret)
	f.Secrets[name] = &secretmanagerpb.Secret{Name: name, CreateTime: timestamppb.New(time.Now())}
	f.Versions[name] = append(f.Versions[name], []byte(value))
}

// AddBinding seeds an IAM binding on a secret.
func (f *FakeSecretManager) AddBinding(project, secret, role, member string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := SecretName(project, secret)
	p := f.policy(name)
	p.Bindings = append(p.Bindings, &iampb.Binding{Role: role, Members: []string{member}})
}

// Latest returns the newest payload of a secret.
func (f *FakeSecretManager) Latest(project, secret string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.Versions[SecretName(project, secret)]
	if len(versions) == 0 {
		return "", false
	}
	return string(versions[len(versions)-1]), true
}

// VersionCount returns how many versions a secret has.
func (f *FakeSecretManager) VersionCount(project, secret string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Versions[SecretName(project, secret)])
}

// Members returns the members bound to role on a secret.
func (f *FakeSecretManager) Members(project, secret, role string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	if p, ok := f.Policies[SecretName(project, secret)]; ok {
		for _, b := range p.Bindings {
			if b.Role == role {
				out = append(out, b.Members...)
			}
		}
	}
	return out
}

// CallsTo returns the recorded calls of one method.
func (f *FakeSecretManager) CallsTo(method string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if strings.HasPrefix(c, method+" ") {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeSecretManager) record(method, resource string) error {
	f.Calls = append(f.Calls, method+" "+resource)
	if err, ok := f.Errors[method+" "+resource]; ok {
		return err
	}
	if err, ok := f.Errors[method]; ok {
		return err
	}
	return nil
}

func (f *FakeSecretManager) policy(name string) *iampb.Policy {
	p, ok := f.Policies[name]
	if !ok {
		p = &iampb.Policy{Version: 1, Etag: []byte("etag-0")}
		f.Policies[name] = p
	}
	return p
}

// GetSecret mocks the GetSecret operation
func (f *FakeSecretManager) GetSecret(_ context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetSecret", req.GetName()); err != nil {
		return nil, err
	}
	s, ok := f.Secrets[req.GetName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", req.GetName())
	}
	return s, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeSecretManager) CreateSecret(_ context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetParent() + "/secrets/" + req.GetSecretId()
	if err := f.record("CreateSecret", name); err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists.", name)
	}
	s := &secretmanagerpb.Secret{
		Name:        name,
		Replication: req.GetSecret().GetReplication(),
		Labels:      req.GetSecret().GetLabels(),
		CreateTime:  timestamppb.New(time.Now()),
	}
	f.Secrets[name] = s
	return s, nil
}

// AddSecretVersion mocks the AddSecretVersion operation
func (f *FakeSecretManager) AddSecretVersion(_ context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddSecretVersion", req.GetParent()); err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[req.GetParent()]; !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found.", req.GetParent())
	}
	f.Versions[req.GetParent()] = append(f.Versions[req.GetParent()], req.GetPayload().GetData())
	return &secretmanagerpb.SecretVersion{
		Name:       fmt.Sprintf("%s/versions/%d", req.GetParent(), len(f.Versions[req.GetParent()])),
		State:      secretmanagerpb.SecretVersion_ENABLED,
		CreateTime: timestamppb.New(time.Now()),
	}, nil
}

// AccessSecretVersion mocks the AccessSecretVersion operation for "latest"
// and numbered versions.
func (f *FakeSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AccessSecretVersion", req.GetName()); err != nil {
		return nil, err
	}
	idx := strings.LastIndex(req.GetName(), "/versions/")
	if idx < 0 {
		return nil, status.Error(codes.InvalidArgument, "missing version")
	}
	parent, version := req.GetName()[:idx], req.GetName()[idx+len("/versions/"):]
	versions := f.Versions[parent]
	if len(versions) == 0 {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", parent)
	}
	n := len(versions)
	if version != "latest" {
		if _, err := fmt.Sscanf(version, "%d", &n); err != nil || n < 1 || n > len(versions) {
			return nil, status.Errorf(codes.NotFound, "Secret Version [%s] not found.", req.GetName())
		}
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    fmt.Sprintf("%s/versions/%d", parent, n),
		Payload: &secretmanagerpb.SecretPayload{Data: versions[n-1]},
	}, nil
}

// GetIamPolicy mocks the GetIamPolicy operation
func (f *FakeSecretManager) GetIamPolicy(_ context.Context, req *iampb.GetIamPolicyRequest) (*iampb.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetIamPolicy", req.GetResource()); err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[req.GetResource()]; !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found.", req.GetResource())
	}
	p := f.policy(req.GetResource())
	out := &iampb.Policy{Version: p.Version, Etag: p.Etag}
	for _, b := range p.Bindings {
		out.Bindings = append(out.Bindings, &iampb.Binding{Role: b.Role, Members: append([]string(nil), b.Members...)})
	}
	return out, nil
}

// SetIamPolicy mocks the SetIamPolicy operation, enforcing etag checks.
func (f *FakeSecretManager) SetIamPolicy(_ context.Context, req *iampb.SetIamPolicyRequest) (*iampb.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetIamPolicy", req.GetResource()); err != nil {
		return nil, err
	}
	current := f.policy(req.GetResource())
	if string(req.GetPolicy().GetEtag()) != string(current.Etag) {
		return nil, status.Error(codes.Aborted, "There were concurrent policy changes.")
	}
	next := req.GetPolicy()
	next.Etag = []byte(fmt.Sprintf("etag-%d", len(f.Calls)))
	f.Policies[req.GetResource()] = next
	return next, nil
}

// GCPPermissionDeniedError creates a mock GCP permission denied error
func GCPPermissionDeniedError(message string) error {
	return status.Error(codes.PermissionDenied, message)
}
