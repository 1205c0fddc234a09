package keymint

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	skerrors "github.com/skylight-social/skyops/internal/errors"
)

// Fixed key policy: one year, read-only over the configured index patterns.
const (
	Expiration     = "365d"
	RoleName       = "skylight_api_reader"
	APIKeyEndpoint = "/_security/api_key"
)

var (
	clusterPrivileges = []string{"monitor"}
	indexPrivileges   = []string{"read", "view_index_metadata"}
)

//go:embed schema/issue_request.json
var issueRequestSchema string

var requestSchema = mustSchema(issueRequestSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("keymint: invalid embedded schema: %v", err))
	}
	return schema
}

// IndexPrivileges grants privileges over a set of index name patterns.
type IndexPrivileges struct {
	Names      []string `json:"names"`
	Privileges []string `json:"privileges"`
}

// RoleDescriptor restricts what an issued key may do.
type RoleDescriptor struct {
	Cluster []string          `json:"cluster"`
	Indices []IndexPrivileges `json:"indices"`
}

// IssueRequest is the body of POST /_security/api_key.
type IssueRequest struct {
	Name            string                    `json:"name"`
	Expiration      string                    `json:"expiration"`
	RoleDescriptors map[string]RoleDescriptor `json:"role_descriptors"`
	Metadata        map[string]string         `json:"metadata,omitempty"`
}

// NewIssueRequest builds the fixed-policy request for the given patterns.
func NewIssueRequest(name, environment string, indexPatterns []string) IssueRequest {
	return IssueRequest{
		Name:       name,
		Expiration: Expiration,
		RoleDescriptors: map[string]RoleDescriptor{
			RoleName: {
				Cluster: append([]string(nil), clusterPrivileges...),
				Indices: []IndexPrivileges{{
					Names:      append([]string(nil), indexPatterns...),
					Privileges: append([]string(nil), indexPrivileges...),
				}},
			},
		},
		Metadata: map[string]string{
			"environment": environment,
			"managed_by":  "skyops",
		},
	}
}

// Validate checks the request against the embedded JSON schema.
func (r IssueRequest) Validate() error {
	result, err := requestSchema.Validate(gojsonschema.NewGoLoader(r))
	if err != nil {
		return skerrors.New(skerrors.KeyIssuanceFailed, "cannot validate key request", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return &skerrors.Error{
			Kind:    skerrors.KeyIssuanceFailed,
			Message: "key request failed schema validation",
			Details: strings.Join(msgs, "; "),
		}
	}
	return nil
}

// Body marshals the validated request.
func (r IssueRequest) Body() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// IssueResponse is the subset of the API key response we read.
type IssueResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Expiration int64  `json:"expiration"`
	APIKey     string `json:"api_key"`
	Encoded    string `json:"encoded"`
}

// ParseIssueResponse extracts the encoded key. Any response without a
// non-empty encoded field is a KeyIssuanceFailed carrying the raw body.
func ParseIssueResponse(raw []byte) (*IssueResponse, error) {
	var resp IssueResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &skerrors.Error{
			Kind:    skerrors.KeyIssuanceFailed,
			Message: "key issuance response is not JSON",
			Raw:     string(raw),
			Err:     err,
		}
	}
	if strings.TrimSpace(resp.Encoded) == "" {
		return nil, &skerrors.Error{
			Kind:       skerrors.KeyIssuanceFailed,
			Message:    "key issuance response has no encoded field",
			Raw:        string(raw),
			Suggestion: "Inspect the raw response; the elastic user may lack manage_api_key or security may be disabled",
		}
	}
	return &resp, nil
}
