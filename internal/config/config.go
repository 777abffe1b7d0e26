package config

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mjpegsw/internal/camera"
	"mjpegsw/internal/stream"
)

// ConfigFileEnv は設定ファイルのパスを指定する環境変数
const ConfigFileEnv = "MJPEGSW_CONFIG"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server"`
	Camera CameraConfig `yaml:"camera"`
	Stream StreamConfig `yaml:"stream"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト（ストリーミングのため通常0）
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // グレースフルシャットダウンの上限
}

// CameraConfig は映像ソースと取得ループの設定
type CameraConfig struct {
	Source  string         `yaml:"source"`  // デバイス番号、パス、URL、ディスプレイ
	Backend camera.Backend `yaml:"backend"` // auto/ffmpeg/x11/opencv/mjpeg
	Width   int            `yaml:"width"`   // 目標幅（0で指定なし）
	Height  int            `yaml:"height"`  // 目標高さ（0で指定なし）
	Rotate  bool           `yaml:"rotate"`  // 180度回転
	Delay   time.Duration  `yaml:"delay"`   // フレーム取得間隔（単位なしの数値は秒）

	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	StallCooldown      time.Duration `yaml:"stall_cooldown"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WorkerStartTimeout time.Duration `yaml:"worker_start_timeout"`
	CloseTimeout       time.Duration `yaml:"close_timeout"`
	FFmpegPath         string        `yaml:"ffmpeg_path"`

	Stall camera.StallPolicy `yaml:"stall"`
}

// UnmarshalYAML はdelayを秒数（小数可）または単位付きの時間として読む
func (c *CameraConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain CameraConfig
	if value.Kind != yaml.MappingNode {
		return value.Decode((*plain)(c))
	}

	var delay *yaml.Node
	rest := *value
	rest.Content = nil
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if key.Value == "delay" && val.Kind == yaml.ScalarNode && val.ShortTag() != "!!null" {
			delay = val
			continue
		}
		rest.Content = append(rest.Content, key, val)
	}

	if err := rest.Decode((*plain)(c)); err != nil {
		return err
	}
	if delay != nil {
		d, err := ParseSeconds(delay.Value)
		if err != nil {
			return fmt.Errorf("delay (%d行目): %w", delay.Line, err)
		}
		c.Delay = d
	}
	return nil
}

// maxSeconds はtime.Durationで表せる最大の秒数
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseSeconds は時間指定を解釈する
// 単位なしの数値は秒（小数可、0は待ちなし）、"200ms" のような単位付きはtime.ParseDurationで読む
func ParseSeconds(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)

	var d time.Duration
	if sec, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(sec) || math.IsInf(sec, 0) || math.Abs(sec) > maxSeconds {
			return 0, fmt.Errorf("無効な秒数: %s", value)
		}
		d = time.Duration(sec * float64(time.Second))
	} else {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("無効な時間指定: %s", value)
		}
		d = parsed
	}

	if d < 0 {
		return 0, fmt.Errorf("負の時間は指定できません: %s", value)
	}
	return d, nil
}

// StreamConfig は配信側の設定
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"` // FrameStoreを読む間隔
	Quality  int           `yaml:"quality"`  // JPEG品質 (1-100)
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level"` // debug/info/warn/error
}

// Default はデフォルト設定を返す
func Default() *Config {
	sup := camera.DefaultSupervisorConfig()

	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            5001,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			Source:             sup.Source.Source,
			Backend:            sup.Source.Backend,
			RetryBackoff:       sup.RetryBackoff,
			StallCooldown:      sup.StallCooldown,
			ReadTimeout:        sup.ReadTimeout,
			WorkerStartTimeout: 5 * time.Second,
			CloseTimeout:       2 * time.Second,
			FFmpegPath:         "ffmpeg",
			Stall:              sup.Stall,
		},
		Stream: StreamConfig{
			Interval: stream.DefaultInterval,
			Quality:  stream.DefaultQuality,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → 設定ファイル（MJPEGSW_CONFIG） → 環境変数 の順に上書きする
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile はYAMLファイルの内容で設定を上書きする
// ファイルに書かれていない項目は現在の値のまま
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Server.Port = getEnvAsIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Camera.Source = getEnvOrDefault("CAMERA_SOURCE", c.Camera.Source)
	c.Camera.Backend = camera.Backend(getEnvOrDefault("CAMERA_BACKEND", string(c.Camera.Backend)))
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	if c.Camera.Source == "" {
		return fmt.Errorf("ソースが指定されていません")
	}
	if !slices.Contains(backends, c.Camera.Backend) {
		return fmt.Errorf("%w: %s", camera.ErrUnsupportedBackend, c.Camera.Backend)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("無効な解像度: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.Delay < 0 {
		return fmt.Errorf("無効な取得間隔: %v", c.Camera.Delay)
	}

	// 配信設定の検証
	if c.Stream.Interval <= 0 {
		return fmt.Errorf("無効な配信間隔: %v", c.Stream.Interval)
	}
	if c.Stream.Quality < 1 || c.Stream.Quality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Stream.Quality)
	}

	return nil
}

var backends = []camera.Backend{
	camera.BackendAuto,
	camera.BackendFFmpeg,
	camera.BackendX11,
	camera.BackendOpenCV,
	camera.BackendMJPEG,
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Resolution は目標解像度を返す
func (c *Config) Resolution() camera.Resolution {
	return camera.Resolution{Width: c.Camera.Width, Height: c.Camera.Height}
}

// SupervisorConfig はcamera.Supervisor用の設定に変換する
func (c *Config) SupervisorConfig() camera.SupervisorConfig {
	return camera.SupervisorConfig{
		Source: camera.SourceConfig{
			Source:             c.Camera.Source,
			Backend:            c.Camera.Backend,
			Resolution:         c.Resolution(),
			FFmpegPath:         c.Camera.FFmpegPath,
			WorkerStartTimeout: c.Camera.WorkerStartTimeout,
			CloseTimeout:       c.Camera.CloseTimeout,
		},
		Delay:         c.Camera.Delay,
		RetryBackoff:  c.Camera.RetryBackoff,
		StallCooldown: c.Camera.StallCooldown,
		ReadTimeout:   c.Camera.ReadTimeout,
		Stall:         c.Camera.Stall,
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
