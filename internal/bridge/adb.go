package bridge

import (
	"context"
	"os/exec"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/util"
	adb "github.com/basiooo/goadb"
	"github.com/pkg/errors"
)

// AdbShell runs device commands over the adb server protocol.
type AdbShell struct {
	client *adb.Adb
}

// NewAdbShell connects to the adb server on port, starting it with adbPath
// if needed.
func NewAdbShell(adbPath string, port int) (*AdbShell, error) {
	if resolved, err := exec.LookPath(adbPath); err == nil {
		adbPath = resolved
	}
	if port == 0 {
		port = adb.AdbPort
	}
	client, err := adb.NewWithConfig(adb.ServerConfig{
		PathToAdb: adbPath,
		Port:      port,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create adb client on port %d", port)
	}
	if err := client.StartServer(); err != nil {
		return nil, errors.Wrap(err, "failed to start adb server")
	}
	return &AdbShell{client: client}, nil
}

// Run implements Shell.
func (s *AdbShell) Run(serial, cmd string, args ...string) (string, error) {
	out, err := s.client.Device(adb.DeviceWithSerial(serial)).RunCommand(cmd, args...)
	if err != nil {
		return "", errors.Wrapf(err, "%s on %s", cmd, serial)
	}
	return out, nil
}

// DeviceEvent reports a device connection change.
type DeviceEvent struct {
	Device   core.DeviceHandle
	Online   bool
	OldState string
	NewState string
}

// Watch streams connection changes until ctx is done.
func (s *AdbShell) Watch(ctx context.Context) <-chan DeviceEvent {
	logger := util.GetLogger().With("component", "watcher")
	watcher := s.client.NewDeviceWatcher()
	events := make(chan DeviceEvent, 16)

	go func() {
		<-ctx.Done()
		watcher.Shutdown()
	}()

	go func() {
		defer close(events)
		for event := range watcher.C() {
			ev := DeviceEvent{
				Device:   core.DeviceHandle(event.Serial),
				Online:   event.NewState == adb.StateOnline,
				OldState: event.OldState.String(),
				NewState: event.NewState.String(),
			}
			logger.Debug("Device state changed", "device", event.Serial, "from", ev.OldState, "to", ev.NewState)
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := watcher.Err(); err != nil {
			logger.Warn("adb device watcher stopped", "error", err)
		}
	}()
	return events
}
