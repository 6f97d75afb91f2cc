package util

import (
	"log/slog"
)

// DeviceLogger returns a logger that tags every record with the device serial.
func DeviceLogger(serial string) *slog.Logger {
	return GetLogger().With("device", serial)
}

// ComponentLogger returns a device logger scoped to one pipeline component.
func ComponentLogger(serial, component string) *slog.Logger {
	return DeviceLogger(serial).With("component", component)
}
