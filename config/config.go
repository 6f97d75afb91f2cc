package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Decode strategies accepted by mirror.strategy.
const (
	StrategySnapshot = "snapshot"
	StrategyDemux    = "demux"
	StrategyRawPipe  = "rawpipe"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.BindEnv("adb.path", "HOPEMIRROR_ADB")
	v.BindEnv("adb.port", "HOPEMIRROR_ADB_PORT")
	v.BindEnv("ffmpeg.path", "HOPEMIRROR_FFMPEG")
	v.BindEnv("mirror.strategy", "HOPEMIRROR_STRATEGY")
	v.BindEnv("mirror.scale", "HOPEMIRROR_SCALE")
	v.BindEnv("mirror.buffer_dir", "HOPEMIRROR_BUFFER_DIR")
	v.BindEnv("preview.addr", "HOPEMIRROR_PREVIEW_ADDR")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		"$HOME/.hopemirror",
		"/etc/hopemirror",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("adb.path", "adb")
	v.SetDefault("adb.port", 5037)
	v.SetDefault("ffmpeg.path", "ffmpeg")

	v.SetDefault("mirror.strategy", StrategySnapshot)
	v.SetDefault("mirror.scale", 0.5)
	v.SetDefault("mirror.snapshot_interval", 80*time.Millisecond)
	v.SetDefault("mirror.stream_fps", 15)
	v.SetDefault("mirror.retry_budget", 3)
	v.SetDefault("mirror.segment_duration", 2*time.Second)
	v.SetDefault("mirror.bit_rate", 4000000)
	v.SetDefault("mirror.buffer_dir", filepath.Join(xdg.CacheHome, "hopemirror"))

	v.SetDefault("preview.addr", "127.0.0.1:28181")
	v.SetDefault("preview.fps", 30)
}

// Mirror holds the settings a mirroring session is built from.
type Mirror struct {
	AdbPath          string
	AdbPort          int
	FFmpegPath       string
	Strategy         string
	Scale            float64
	SnapshotInterval time.Duration
	StreamFPS        int
	RetryBudget      int
	SegmentDuration  time.Duration
	BitRate          int
	BufferDir        string
}

// GetMirror returns the current mirroring settings.
func GetMirror() Mirror {
	return Mirror{
		AdbPath:          v.GetString("adb.path"),
		AdbPort:          v.GetInt("adb.port"),
		FFmpegPath:       v.GetString("ffmpeg.path"),
		Strategy:         v.GetString("mirror.strategy"),
		Scale:            v.GetFloat64("mirror.scale"),
		SnapshotInterval: v.GetDuration("mirror.snapshot_interval"),
		StreamFPS:        v.GetInt("mirror.stream_fps"),
		RetryBudget:      v.GetInt("mirror.retry_budget"),
		SegmentDuration:  v.GetDuration("mirror.segment_duration"),
		BitRate:          v.GetInt("mirror.bit_rate"),
		BufferDir:        v.GetString("mirror.buffer_dir"),
	}
}

// Validate reports the first setting that cannot drive a session.
func (m Mirror) Validate() error {
	switch m.Strategy {
	case StrategySnapshot, StrategyDemux, StrategyRawPipe:
	default:
		return errors.Errorf("unknown mirror strategy %q", m.Strategy)
	}
	if m.Scale <= 0 || m.Scale > 1 {
		return errors.Errorf("mirror scale %v out of range (0, 1]", m.Scale)
	}
	if m.StreamFPS <= 0 {
		return errors.Errorf("stream fps must be positive, got %d", m.StreamFPS)
	}
	if m.RetryBudget <= 0 {
		return errors.Errorf("retry budget must be positive, got %d", m.RetryBudget)
	}
	if m.SnapshotInterval <= 0 {
		return errors.Errorf("snapshot interval must be positive, got %s", m.SnapshotInterval)
	}
	if m.SegmentDuration <= 0 {
		return errors.Errorf("segment duration must be positive, got %s", m.SegmentDuration)
	}
	return nil
}

// GetPreviewAddr returns the listen address of the browser preview.
func GetPreviewAddr() string {
	return v.GetString("preview.addr")
}

// GetPreviewFPS returns the preview redraw rate.
func GetPreviewFPS() int {
	return v.GetInt("preview.fps")
}

// Set overrides a single key, used by command-line flags.
func Set(key string, value interface{}) {
	v.Set(key, value)
}
