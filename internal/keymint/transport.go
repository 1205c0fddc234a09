package keymint

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	skerrors "github.com/skylight-social/skyops/internal/errors"
	pkgexec "github.com/skylight-social/skyops/pkg/exec"
)

// Transport delivers a POST to the Elasticsearch control API and returns the
// raw response body.
type Transport interface {
	Post(ctx context.Context, path string, body []byte, username, password string) ([]byte, error)
}

// PodTarget names the Elasticsearch pod to exec into.
type PodTarget struct {
	Namespace string
	Pod       string
	Container string
}

// ExecTransport runs curl inside the Elasticsearch pod via kubectl exec,
// reaching the node on localhost. The body is streamed on stdin.
type ExecTransport struct {
	executor pkgexec.CommandExecutor
	target   PodTarget
	baseURL  string
}

// NewExecTransport creates an ExecTransport for target.
func NewExecTransport(executor pkgexec.CommandExecutor, target PodTarget) *ExecTransport {
	return &ExecTransport{executor: executor, target: target, baseURL: "https://localhost:9200"}
}

// Args renders the kubectl invocation.
func (t *ExecTransport) Args(path, username, password string) []string {
	return []string{
		"exec", "-i", "-n", t.target.Namespace, t.target.Pod, "-c", t.target.Container, "--",
		"curl", "-sS", "-k",
		"-u", username + ":" + password,
		"-X", http.MethodPost,
		"-H", "Content-Type: application/json",
		"--data-binary", "@-",
		t.baseURL + path,
	}
}

// Post implements Transport.
func (t *ExecTransport) Post(ctx context.Context, path string, body []byte, username, password string) ([]byte, error) {
	args := t.Args(path, username, password)
	stdout, stderr, err := t.executor.ExecuteWithInput(ctx, body, "kubectl", args...)
	if err != nil {
		return stdout, skerrors.NewCommandError("kubectl", args, stderr, err)
	}
	return stdout, nil
}

// HTTPTransport talks to Elasticsearch directly, for operators with a
// port-forward or an internal load balancer.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates an HTTPTransport. insecure skips TLS verification
// for the self-signed certificates ECK issues by default.
func NewHTTPTransport(baseURL string, insecure bool) *HTTPTransport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // ECK self-signed certs
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second, Transport: tr},
	}
}

// Post implements Transport. Non-2xx responses return the body together
// with an error.
func (t *HTTPTransport) Post(ctx context.Context, path string, body []byte, username, password string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, fmt.Errorf("POST %s: unexpected status %d", path, resp.StatusCode)
	}
	return raw, nil
}
