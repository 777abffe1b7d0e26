package main

import (
	"flag"
	"io"
	"testing"
	"time"

	"mjpegsw/internal/camera"
	"mjpegsw/internal/config"
)

func parseOptions(t *testing.T, args ...string) (*options, *flag.FlagSet) {
	t.Helper()
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts options
	opts.register(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return &opts, fs
}

func TestOptions_ShortAndLongNames(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"短い名前", []string{"-p", "8080", "-i", "0.0.0.0", "-c", "2", "-W", "640", "-H", "480", "-r", "-d", "0.2", "-b", "x11"}},
		{"長い名前", []string{"-port", "8080", "-ipaddress", "0.0.0.0", "-camera", "2", "-width", "640", "-height", "480", "-rotate", "-delay", "200ms", "-backend", "x11"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, fs := parseOptions(t, tt.args...)
			cfg := config.Default()
			opts.apply(fs, cfg)

			if cfg.ServerAddress() != "0.0.0.0:8080" {
				t.Errorf("Expected 0.0.0.0:8080, got %s", cfg.ServerAddress())
			}
			if cfg.Camera.Source != "2" {
				t.Errorf("Expected source 2, got %s", cfg.Camera.Source)
			}
			if cfg.Resolution() != (camera.Resolution{Width: 640, Height: 480}) {
				t.Errorf("Expected 640x480, got %s", cfg.Resolution())
			}
			if !cfg.Camera.Rotate {
				t.Error("Expected rotate to be true")
			}
			if cfg.Camera.Delay != 200*time.Millisecond {
				t.Errorf("Expected delay 200ms, got %v", cfg.Camera.Delay)
			}
			if cfg.Camera.Backend != camera.BackendX11 {
				t.Errorf("Expected backend x11, got %s", cfg.Camera.Backend)
			}
		})
	}
}

func TestOptions_DelaySeconds(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want time.Duration
	}{
		{"小数の秒", []string{"-d", "0.2"}, 200 * time.Millisecond},
		{"整数の秒", []string{"-delay", "2"}, 2 * time.Second},
		{"ゼロは待ちなし", []string{"-d", "0"}, 0},
		{"単位付き", []string{"-d", "50ms"}, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, fs := parseOptions(t, tt.args...)
			cfg := config.Default()
			cfg.Camera.Delay = time.Hour
			opts.apply(fs, cfg)

			if cfg.Camera.Delay != tt.want {
				t.Errorf("Expected delay %v, got %v", tt.want, cfg.Camera.Delay)
			}
		})
	}
}

func TestOptions_RejectsNegativeDelay(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts options
	opts.register(fs)
	if err := fs.Parse([]string{"-d", "-0.5"}); err == nil {
		t.Error("Expected error for negative delay")
	}
}

func TestOptions_UnsetFlagsKeepConfig(t *testing.T) {
	opts, fs := parseOptions(t, "-log-level", "debug")

	cfg := config.Default()
	cfg.Server.Port = 6001
	cfg.Camera.Source = "/dev/video3"
	opts.apply(fs, cfg)

	if cfg.Server.Port != 6001 {
		t.Errorf("Expected port from config to be kept, got %d", cfg.Server.Port)
	}
	if cfg.Camera.Source != "/dev/video3" {
		t.Errorf("Expected source from config to be kept, got %s", cfg.Camera.Source)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
}
