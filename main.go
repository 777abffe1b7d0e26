package main

import (
	"context"
	"fmt"
	"os"

	"mjpegsw/internal/config"
	"mjpegsw/internal/log"
	"mjpegsw/internal/server"
)

func main() {
	// 設定を読み込む（設定ファイルと環境変数のみ）
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗しました: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level)

	// サーバーを作成して起動
	srv := server.New(cfg)
	if err := srv.Start(context.Background()); err != nil {
		log.Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
