package bridge

import (
	"testing"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []core.DeviceHandle
		wantErr bool
	}{
		{
			name:  "two online one unauthorized",
			input: "List of devices attached\nemulator-5554\tdevice\nR58M123\tdevice\nZX1\tunauthorized\n\n",
			want:  []core.DeviceHandle{"emulator-5554", "R58M123"},
		},
		{
			name:  "daemon banner before header",
			input: "* daemon not running; starting now at tcp:5037\n* daemon started successfully\nList of devices attached\n192.168.1.7:5555\tdevice\n",
			want:  []core.DeviceHandle{"192.168.1.7:5555"},
		},
		{
			name:  "long format",
			input: "List of devices attached\nemulator-5554          device product:sdk model:Pixel transport_id:1\n",
			want:  []core.DeviceHandle{"emulator-5554"},
		},
		{
			name:  "offline only",
			input: "List of devices attached\nemulator-5554\toffline\n",
			want:  nil,
		},
		{
			name:    "garbage",
			input:   "adb: command not found",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDeviceList(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsKind(err, core.KindDiscovery))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDisplaySize(t *testing.T) {
	tests := []struct {
		input  string
		w, h   int
		wantOK bool
	}{
		{"Physical size: 1080x1920\n", 1080, 1920, true},
		{"Physical size: 1440x3200\nOverride size: 1080x2400\n", 1440, 3200, true},
		{"Override size: 720x1280\nPhysical size: 1080x1920\n", 720, 1280, true},
		{"error: device offline", 0, 0, false},
		{"Physical size: 0x1920", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, ok := ParseDisplaySize(tt.input)
		assert.Equal(t, tt.wantOK, ok, tt.input)
		assert.Equal(t, tt.w, w, tt.input)
		assert.Equal(t, tt.h, h, tt.input)
	}
}

func TestEscapeText(t *testing.T) {
	assert.Equal(t, "hello%sworld", EscapeText("hello world"))
	assert.Equal(t, `it\'s%s\$5`, EscapeText("it's $5"))
	assert.Equal(t, "plain", EscapeText("plain"))
}
