package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/superdash/superdash/internal/config"
)

// ConfigHandler exposes the active configuration. The file is the only
// write path; this endpoint is read-only.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetConfigInput is the input for the config endpoint.
type GetConfigInput struct{}

// GetConfigOutput is the output for the config endpoint.
type GetConfigOutput struct {
	Body *config.Config
}

// Register registers the config routes with the API.
func (h *ConfigHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getConfig",
		Method:      "GET",
		Path:        "/api/v1/config",
		Summary:     "Get configuration",
		Description: "Returns the active settings and device list",
		Tags:        []string{"System"},
	}, h.GetConfig)
}

// GetConfig returns the active configuration.
func (h *ConfigHandler) GetConfig(ctx context.Context, input *GetConfigInput) (*GetConfigOutput, error) {
	return &GetConfigOutput{Body: h.cfg}, nil
}
