package gcloud

import (
	"context"
	"fmt"
	"strings"

	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ProjectGetter is the Resource Manager call ProjectChecker needs.
type ProjectGetter interface {
	GetProject(ctx context.Context, req *resourcemanagerpb.GetProjectRequest) (*resourcemanagerpb.Project, error)
}

// ProjectChecker looks projects up in Resource Manager.
type ProjectChecker struct {
	client ProjectGetter
	close  func() error
}

type projectsClient struct {
	c *resourcemanager.ProjectsClient
}

func (p projectsClient) GetProject(ctx context.Context, req *resourcemanagerpb.GetProjectRequest) (*resourcemanagerpb.Project, error) {
	return p.c.GetProject(ctx, req)
}

// NewProjectChecker dials Resource Manager.
func NewProjectChecker(ctx context.Context, opts ...option.ClientOption) (*ProjectChecker, error) {
	client, err := resourcemanager.NewProjectsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP projects client: %w", err)
	}
	return &ProjectChecker{client: projectsClient{c: client}, close: client.Close}, nil
}

// NewProjectCheckerWithClient wraps an existing client.
func NewProjectCheckerWithClient(client ProjectGetter) *ProjectChecker {
	return &ProjectChecker{client: client}
}

// Exists reports whether the project exists and is active. Resource Manager
// answers PermissionDenied for projects that do not exist, so that case is
// treated as absent too.
func (p *ProjectChecker) Exists(ctx context.Context, projectID string) (bool, error) {
	project, err := p.client.GetProject(ctx, &resourcemanagerpb.GetProjectRequest{Name: "projects/" + projectID})
	if err != nil {
		//nolint:exhaustive // only NotFound and PermissionDenied mean absent
		switch status.Code(err) {
		case codes.NotFound:
			return false, nil
		case codes.PermissionDenied:
			if strings.Contains(err.Error(), "or it may not exist") {
				return false, nil
			}
		}
		return false, fmt.Errorf("failed to get project: %w", err)
	}
	return project.GetState() == resourcemanagerpb.Project_ACTIVE, nil
}

// Close releases the client.
func (p *ProjectChecker) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}
