package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/superdash/superdash/internal/service/logs"
)

// LogsHandler serves the in-memory log ring.
type LogsHandler struct {
	service *logs.Service
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(service *logs.Service) *LogsHandler {
	return &LogsHandler{service: service}
}

// GetLogsInput is the input for the recent logs endpoint.
type GetLogsInput struct {
	Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum entries to return"`
	Level     string `query:"level" doc:"Only entries at this level (trace, debug, info, warn, error)"`
	Component string `query:"component" doc:"Only entries from this component"`
}

// GetLogsOutput is the output for the recent logs endpoint.
type GetLogsOutput struct {
	Body struct {
		Entries []logs.Entry `json:"entries"`
		Stats   logs.Stats   `json:"stats"`
	}
}

// Register registers the log routes with the API.
func (h *LogsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLogs",
		Method:      "GET",
		Path:        "/api/v1/logs",
		Summary:     "Recent logs",
		Description: "Returns recent log entries with stream statistics",
		Tags:        []string{"System"},
	}, h.GetLogs)
}

// GetLogs returns recent entries, newest last.
func (h *LogsHandler) GetLogs(ctx context.Context, input *GetLogsInput) (*GetLogsOutput, error) {
	out := &GetLogsOutput{}
	out.Body.Entries = h.service.Recent(input.Limit, input.Level, input.Component)
	out.Body.Stats = h.service.GetStats()
	return out, nil
}
