package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/superdash/superdash/internal/device"
)

// DevicesHandler serves the normalised device snapshot.
type DevicesHandler struct {
	source StateSource
}

// NewDevicesHandler creates a new devices handler.
func NewDevicesHandler(source StateSource) *DevicesHandler {
	return &DevicesHandler{source: source}
}

// ListDevicesInput is the input for the device list endpoint.
type ListDevicesInput struct{}

// ListDevicesOutput is the output for the device list endpoint.
type ListDevicesOutput struct {
	Body struct {
		Devices []device.Status `json:"devices"`
	}
}

// GetDeviceInput is the input for the single device endpoint.
type GetDeviceInput struct {
	ID int `path:"id" doc:"Device id"`
}

// GetDeviceOutput is the output for the single device endpoint.
type GetDeviceOutput struct {
	Body device.Status
}

// Register registers the device routes with the API.
func (h *DevicesHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listDevices",
		Method:      "GET",
		Path:        "/api/v1/devices",
		Summary:     "List devices",
		Description: "Returns the current normalised state of every configured device",
		Tags:        []string{"Devices"},
	}, h.ListDevices)

	huma.Register(api, huma.Operation{
		OperationID: "getDevice",
		Method:      "GET",
		Path:        "/api/v1/devices/{id}",
		Summary:     "Get device",
		Tags:        []string{"Devices"},
	}, h.GetDevice)
}

// ListDevices returns the snapshot, ordered by device id.
func (h *DevicesHandler) ListDevices(ctx context.Context, input *ListDevicesInput) (*ListDevicesOutput, error) {
	out := &ListDevicesOutput{}
	out.Body.Devices = h.source.Snapshot()
	return out, nil
}

// GetDevice returns one device's state.
func (h *DevicesHandler) GetDevice(ctx context.Context, input *GetDeviceInput) (*GetDeviceOutput, error) {
	st, ok := h.source.Device(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("device not found")
	}
	return &GetDeviceOutput{Body: st}, nil
}
