package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/logging"
	"github.com/skylight-social/skyops/internal/testutil"
)

const (
	getCredentials = "gcloud container clusters get-credentials skylight-prod"
	getSecret      = "kubectl get secret elasticsearch-prod-es-elastic-user"
)

func prodRequest() Request {
	return Request{
		Cluster: CredentialsRequest{Cluster: "skylight-prod", Region: "us-central1", Project: "skylight-123"},
		Secret:  SecretRequest{Name: "elasticsearch-prod-es-elastic-user", Namespace: "elastic"},
	}
}

func TestAcquireSuccess(t *testing.T) {
	t.Parallel()

	exec := testutil.NewMockCommandExecutor()
	exec.StrictMode = true
	exec.AddResponse(getCredentials, testutil.MockResponse{})
	exec.AddJSONResponse(getSecret, testutil.ElasticUserSecret("elasticsearch-prod-es-elastic-user", "s3cr3t-pw"))

	cred, err := NewAcquirer(exec, logging.Discard()).Acquire(context.Background(), prodRequest())
	require.NoError(t, err)
	defer cred.Destroy()

	var user, pw string
	require.NoError(t, cred.Use(func(u, p string) error {
		user, pw = u, p
		return nil
	}))
	assert.Equal(t, "elastic", user)
	assert.Equal(t, "s3cr3t-pw", pw)

	calls := exec.RecordedCalls
	require.Len(t, calls, 2)
	assert.Equal(t, "gcloud container clusters get-credentials skylight-prod --region us-central1 --project skylight-123", calls[0].Line())
	assert.Equal(t, "kubectl get secret elasticsearch-prod-es-elastic-user -n elastic -o json", calls[1].Line())
}

func TestAcquireClusterUnreachable(t *testing.T) {
	t.Parallel()

	exec := testutil.NewMockCommandExecutor()
	exec.AddErrorResponse(getCredentials, "ERROR: (gcloud.container.clusters.get-credentials) ResponseError: code=404, message=Not found", 1)

	_, err := NewAcquirer(exec, logging.Discard()).Acquire(context.Background(), prodRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, skerrors.ErrClusterUnreachable)
	exec.AssertNotCalled(t, "kubectl")
}

func TestAcquireCredentialNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp testutil.MockResponse
	}{
		{
			name: "secret missing",
			resp: testutil.MockResponse{
				Stderr: []byte(`Error from server (NotFound): secrets "elasticsearch-prod-es-elastic-user" not found`),
				Err:    assert.AnError,
			},
		},
		{
			name: "empty password",
			resp: testutil.MockResponse{Stdout: []byte(`{"data":{"elastic":""}}`)},
		},
		{
			name: "whitespace password",
			resp: testutil.MockResponse{Stdout: []byte(`{"data":{"elastic":"ICAK"}}`)},
		},
		{
			name: "key absent",
			resp: testutil.MockResponse{Stdout: []byte(`{"data":{"other":"eA=="}}`)},
		},
		{
			name: "invalid base64",
			resp: testutil.MockResponse{Stdout: []byte(`{"data":{"elastic":"%%%"}}`)},
		},
		{
			name: "not json",
			resp: testutil.MockResponse{Stdout: []byte(`No resources found`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec := testutil.NewMockCommandExecutor()
			exec.AddResponse(getCredentials, testutil.MockResponse{})
			exec.AddResponse(getSecret, tt.resp)

			cred, err := NewAcquirer(exec, logging.Discard()).Acquire(context.Background(), prodRequest())
			require.Error(t, err)
			assert.Nil(t, cred)
			assert.ErrorIs(t, err, skerrors.ErrCredentialNotFound)
		})
	}
}

func TestAcquireRejectsIncompleteRequest(t *testing.T) {
	t.Parallel()

	exec := testutil.NewMockCommandExecutor()
	req := prodRequest()
	req.Cluster.Project = ""

	_, err := NewAcquirer(exec, logging.Discard()).Acquire(context.Background(), req)
	assert.ErrorIs(t, err, skerrors.ErrConfigurationInvalid)
	assert.Zero(t, exec.CallCount())
}

func TestCredentialDestroy(t *testing.T) {
	t.Parallel()

	cred, err := NewCredential("elastic", []byte("pw"))
	require.NoError(t, err)
	cred.Destroy()

	err = cred.Use(func(string, string) error { return nil })
	assert.Error(t, err)

	var nilCred *Credential
	nilCred.Destroy()
}
