// Package main はmjpegswサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"mjpegsw/internal/camera"
	"mjpegsw/internal/config"
	"mjpegsw/internal/log"
	"mjpegsw/internal/server"
)

// options はコマンドラインオプション
// 短い名前と長い名前は同じ変数を指す
type options struct {
	configPath string
	host       string
	port       int
	source     string
	backend    string
	width      int
	height     int
	rotate     bool
	delay      time.Duration
	logLevel   string
	help       bool
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "設定ファイル (YAML)")
	fs.StringVar(&o.host, "i", "", "リッスンするIPアドレス (デフォルト: 127.0.0.1)")
	fs.StringVar(&o.host, "ipaddress", "", "-i と同じ")
	fs.IntVar(&o.port, "p", 0, "HTTPポート (デフォルト: 5001)")
	fs.IntVar(&o.port, "port", 0, "-p と同じ")
	fs.StringVar(&o.source, "c", "", "カメラ番号・デバイスパス・URL (デフォルト: 0)")
	fs.StringVar(&o.source, "camera", "", "-c と同じ")
	fs.StringVar(&o.backend, "b", "", "バックエンド auto/ffmpeg/x11/opencv/mjpeg")
	fs.StringVar(&o.backend, "backend", "", "-b と同じ")
	fs.IntVar(&o.width, "W", 0, "幅")
	fs.IntVar(&o.width, "width", 0, "-W と同じ")
	fs.IntVar(&o.height, "H", 0, "高さ")
	fs.IntVar(&o.height, "height", 0, "-H と同じ")
	fs.BoolVar(&o.rotate, "r", false, "180度回転")
	fs.BoolVar(&o.rotate, "rotate", false, "-r と同じ")
	fs.Var(secondsValue{&o.delay}, "d", "フレーム取得間隔の秒数 (例: 0.2、0で待ちなし)")
	fs.Var(secondsValue{&o.delay}, "delay", "-d と同じ")
	fs.StringVar(&o.logLevel, "log-level", "", "ログレベル debug/info/warn/error")
	fs.BoolVar(&o.help, "help", false, "ヘルプを表示")
}

// secondsValue は秒数（小数可）で指定するフラグ
type secondsValue struct {
	d *time.Duration
}

func (v secondsValue) String() string {
	if v.d == nil {
		return "0"
	}
	return strconv.FormatFloat(v.d.Seconds(), 'f', -1, 64)
}

func (v secondsValue) Set(s string) error {
	d, err := config.ParseSeconds(s)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

// apply は明示的に指定されたオプションだけで設定を上書きする
func (o *options) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i", "ipaddress":
			cfg.Server.Host = o.host
		case "p", "port":
			cfg.Server.Port = o.port
		case "c", "camera":
			cfg.Camera.Source = o.source
		case "b", "backend":
			cfg.Camera.Backend = camera.Backend(o.backend)
		case "W", "width":
			cfg.Camera.Width = o.width
		case "H", "height":
			cfg.Camera.Height = o.height
		case "r", "rotate":
			cfg.Camera.Rotate = o.rotate
		case "d", "delay":
			cfg.Camera.Delay = o.delay
		case "log-level":
			cfg.Log.Level = o.logLevel
		}
	})
}

func main() {
	var opts options
	opts.register(flag.CommandLine)
	flag.Parse()

	// ヘルプ表示
	if opts.help {
		fmt.Println("mjpegsw")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if opts.configPath != "" {
		_ = os.Setenv(config.ConfigFileEnv, opts.configPath)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		os.Exit(1)
	}

	// コマンドラインオプションで設定を上書き
	opts.apply(flag.CommandLine, cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "設定が不正です: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level)

	srv := server.New(cfg)

	log.Info("mjpegsw サーバーを起動します",
		"address", cfg.ServerAddress(),
		"source", cfg.Camera.Source,
		"backend", cfg.Camera.Backend,
	)
	if err := srv.Start(context.Background()); err != nil {
		log.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
