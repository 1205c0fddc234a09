// Package keymint issues scoped Elasticsearch API keys with the superuser
// credential.
package keymint

import (
	"context"
	"fmt"
	"time"

	"github.com/skylight-social/skyops/internal/cluster"
	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/logging"
)

// IssuedKey is a freshly minted key.
type IssuedKey struct {
	ID      string
	Name    string
	Encoded string
}

// Minter issues one new key per call. Keys are never reused or revoked here.
type Minter struct {
	transport Transport
	logger    *logging.Logger
	now       func() time.Time
}

// New creates a Minter.
func New(transport Transport, logger *logging.Logger) *Minter {
	return &Minter{transport: transport, logger: logger, now: time.Now}
}

// WithClock overrides the clock used for key names.
func (m *Minter) WithClock(now func() time.Time) *Minter {
	m.now = now
	return m
}

// KeyName derives a unique, sortable key name for the environment.
func (m *Minter) KeyName(environment string) string {
	return fmt.Sprintf("skylight-api-%s-%s", environment, m.now().UTC().Format("20060102-150405"))
}

// Mint issues a key restricted to indexPatterns.
func (m *Minter) Mint(ctx context.Context, cred *cluster.Credential, environment string, indexPatterns []string) (*IssuedKey, error) {
	req := NewIssueRequest(m.KeyName(environment), environment, indexPatterns)
	body, err := req.Body()
	if err != nil {
		return nil, err
	}

	m.logger.Step("Issuing Elasticsearch API key %s", req.Name)

	var raw []byte
	err = cred.Use(func(username, password string) error {
		var postErr error
		raw, postErr = m.transport.Post(ctx, APIKeyEndpoint, body, username, password)
		return postErr
	})
	if err != nil {
		return nil, &skerrors.Error{
			Kind:    skerrors.KeyIssuanceFailed,
			Message: "key issuance request failed",
			Raw:     string(raw),
			Err:     err,
		}
	}

	resp, err := ParseIssueResponse(raw)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Issued API key %s (id %s, %d chars)", resp.Name, resp.ID, len(resp.Encoded))
	return &IssuedKey{ID: resp.ID, Name: resp.Name, Encoded: resp.Encoded}, nil
}
