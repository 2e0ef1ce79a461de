package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/version"
)

// SystemHandler exposes health and version endpoints.
type SystemHandler struct{}

// NewSystemHandler creates a system handler.
func NewSystemHandler() *SystemHandler {
	return &SystemHandler{}
}

// HealthBody is the health response body.
type HealthBody struct {
	Status string `json:"status"`
}

// HealthOutput is the health response.
type HealthOutput struct {
	Body HealthBody
}

// VersionOutput is the version response.
type VersionOutput struct {
	Body version.Info
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Tags:        []string{"System"},
	}, h.Health)

	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/api/v1/version",
		Summary:     "Build version",
		Tags:        []string{"System"},
	}, h.Version)
}

// Health reports liveness.
func (h *SystemHandler) Health(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
}

// Version reports build information.
func (h *SystemHandler) Version(ctx context.Context, _ *struct{}) (*VersionOutput, error) {
	return &VersionOutput{Body: version.GetInfo()}, nil
}
