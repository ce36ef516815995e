// Package handlers provides the REST API handlers for the aggregator.
package handlers

import (
	"github.com/superdash/superdash/internal/aggregator"
	"github.com/superdash/superdash/internal/device"
)

// StateSource is the aggregator surface the handlers read from.
type StateSource interface {
	Snapshot() []device.Status
	Device(id int) (device.Status, bool)
	ConnectedCount() int
	ProtocolStatus() aggregator.ProtocolStatus
}

// CPUInfo holds CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory information.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status           string                    `json:"status"`
	Timestamp        string                    `json:"timestamp"`
	Version          string                    `json:"version"`
	Uptime           string                    `json:"uptime"`
	UptimeSeconds    float64                   `json:"uptime_seconds"`
	DeviceCount      int                       `json:"device_count"`
	ConnectedDevices int                       `json:"connected_devices"`
	Protocols        aggregator.ProtocolStatus `json:"protocols"`
	CPUInfo          CPUInfo                   `json:"cpu_info"`
	Memory           MemoryInfo                `json:"memory"`
}
