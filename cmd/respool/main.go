// Package main is the entry point for respool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"respool/internal/api"
	"respool/internal/config"
	"respool/internal/logger"
	"respool/internal/worker"
	"respool/internal/workload"
)

var (
	version = "dev"
)

// flags はコマンドラインで指定された上書き値
type flags struct {
	configFile  string
	presetName  string
	workers     int
	jobs        int
	jobDuration time.Duration
	resizeAfter time.Duration
	resizeTo    int
	submitters  int
	logLevel    string
}

func main() {
	var f flags

	// フラグ定義
	flag.StringVar(&f.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&f.presetName, "preset", "", "プリセットワークロード名 (quick, grow, shrink, burst, drain)")
	flag.IntVar(&f.workers, "workers", 0, "初期ワーカー数")
	flag.IntVar(&f.jobs, "jobs", 0, "投入するジョブ数")
	flag.DurationVar(&f.jobDuration, "duration", 0, "各ジョブの実行時間 (例: 100ms, 1s)")
	flag.DurationVar(&f.resizeAfter, "resize-after", 0, "開始からリサイズまでの時間")
	flag.IntVar(&f.resizeTo, "resize-to", -1, "リサイズ後のワーカー数 (-1 でリサイズなし)")
	flag.IntVar(&f.submitters, "submitters", 0, "並行してジョブを投入するゴルーチン数")
	flag.StringVar(&f.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	var (
		listPresets = flag.Bool("list-presets", false, "利用可能なプリセットを表示")
		showVersion = flag.Bool("version", false, "バージョンを表示")
		serverMode  = flag.Bool("server", false, "APIサーバーモードで起動")
		serverAddr  = flag.String("addr", "", "サーバーアドレス (例: :8080, 0.0.0.0:3000)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `respool - Resizable Worker Pool

Usage:
  respool [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # プリセットワークロードを実行
  respool --preset quick

  # 設定ファイルから実行
  respool --config workload.yaml

  # フラグでカスタマイズ
  respool --workers 4 --jobs 40 --duration 200ms --resize-after 500ms --resize-to 10

  # プリセット一覧を表示
  respool --list-presets

  # APIサーバーモードで起動
  respool --server --addr :3000
`)
	}

	flag.Parse()

	// バージョン表示
	if *showVersion {
		fmt.Printf("respool version %s\n", version)
		return
	}

	// プリセット一覧表示
	if *listPresets {
		printPresets()
		return
	}

	fileConfig, err := loadFileConfig(f.configFile)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	level, err := resolveLogLevel(fileConfig, f.logLevel)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(level)

	// APIサーバーモード
	if *serverMode {
		if err := runServer(serverConfig(fileConfig, f, *serverAddr)); err != nil {
			logger.Error("", "サーバーエラー: %v", err)
			os.Exit(1)
		}
		return
	}

	// ワークロード設定の決定
	workloadConfig, err := buildWorkloadConfig(fileConfig, f)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	// ワークロード実行
	if err := runWorkload(workloadConfig); err != nil {
		logger.Error("", "ワークロード実行エラー: %v", err)
		os.Exit(1)
	}
}

// loadFileConfig は設定ファイルを読み込んで検証する。パスが空なら nil を返す
func loadFileConfig(path string) (*config.FileConfig, error) {
	if path == "" {
		return nil, nil
	}

	fileConfig, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
	}
	if err := fileConfig.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return fileConfig, nil
}

// resolveLogLevel はフラグ、設定ファイル、デフォルトの順でログレベルを決める
func resolveLogLevel(fileConfig *config.FileConfig, flagLevel string) (logger.Level, error) {
	if flagLevel != "" {
		return logger.ParseLevel(flagLevel)
	}
	if fileConfig != nil {
		return fileConfig.LogLevel()
	}
	return logger.LevelInfo, nil
}

// buildWorkloadConfig はワークロード設定を構築する
func buildWorkloadConfig(fileConfig *config.FileConfig, f flags) (workload.Config, error) {
	var cfg workload.Config

	switch {
	case fileConfig != nil:
		// 1. 設定ファイルから読み込み（プリセットフラグがあれば優先）
		if f.presetName != "" {
			fileConfig.Workload.Preset = f.presetName
		}
		var err error
		cfg, err = fileConfig.ToWorkloadConfig()
		if err != nil {
			return cfg, fmt.Errorf("設定変換エラー: %w", err)
		}
	case f.presetName != "":
		// 2. プリセットから読み込み
		preset, ok := workload.GetPreset(f.presetName)
		if !ok {
			return cfg, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", f.presetName, workload.ListPresets())
		}
		cfg = preset
	default:
		// 3. デフォルト（quickワークロード）
		cfg = workload.QuickWorkload()
	}

	// フラグでオーバーライド
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.jobs > 0 {
		cfg.Jobs = f.jobs
	}
	if f.jobDuration > 0 {
		cfg.JobDuration = f.jobDuration
	}
	if f.submitters > 0 {
		cfg.Submitters = f.submitters
	}

	// --resize-to が明示された場合のみリサイズ予定を置き換える
	if f.resizeTo >= 0 {
		cfg.Resizes = []workload.ResizeStep{{After: f.resizeAfter, Workers: f.resizeTo}}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("設定検証エラー: %w", err)
	}

	return cfg, nil
}

// serverConfig はAPIサーバーの設定を構築する
func serverConfig(fileConfig *config.FileConfig, f flags, addr string) api.Config {
	cfg := api.Config{
		Addr:        ":8080",
		Pool:        worker.DefaultPoolConfig(),
		EventBuffer: api.DefaultEventBuffer,
	}

	if fileConfig != nil {
		cfg.Pool = fileConfig.ToPoolConfig()
		if fileConfig.Server.Addr != "" {
			cfg.Addr = fileConfig.Server.Addr
		}
		if fileConfig.Server.EventBuffer > 0 {
			cfg.EventBuffer = fileConfig.Server.EventBuffer
		}
	}

	if f.workers > 0 {
		cfg.Pool.NumWorkers = f.workers
	}
	if addr != "" {
		cfg.Addr = addr
	}

	return cfg
}

// runWorkload はワークロードを実行する
func runWorkload(cfg workload.Config) error {
	fmt.Println("respool - Resizable Worker Pool")
	fmt.Println("====================================================")
	fmt.Printf("Workload: %s\n", cfg.Name)
	fmt.Printf("Workers: %d, Jobs: %d x %v\n", cfg.Workers, cfg.Jobs, cfg.JobDuration)
	fmt.Printf("Submitters: %d\n", cfg.Submitters)
	for _, step := range cfg.Resizes {
		fmt.Printf("Resize: +%v -> %d workers\n", step.After, step.Workers)
	}
	fmt.Println("====================================================")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n中断シグナルを受信、ワークロードを終了中...")
		cancel()
	}()

	// ワークロード実行
	engine := workload.New(cfg)
	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	// レポート出力
	fmt.Println(result.Report())

	if !result.OK() {
		return fmt.Errorf("%d jobs missing, %d jobs duplicated", len(result.Missing), len(result.Duplicates))
	}
	return nil
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能なプリセットワークロード:")
	fmt.Println()

	for _, p := range workload.Presets() {
		fmt.Printf("  %-8s %s\n", p.Name, p.Description)
	}

	fmt.Println()
	fmt.Println("使用例: respool --preset quick")
}

// runServer はAPIサーバーを起動する
func runServer(cfg api.Config) error {
	fmt.Println("respool - API Server")
	fmt.Println("========================")
	fmt.Printf("Starting server on http://%s\n", cfg.Addr)
	fmt.Printf("Pool: %s (%d workers)\n", cfg.Pool.Name, cfg.Pool.NumWorkers)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\n中断シグナルを受信、サーバーを終了中...")
		cancel()
	}()

	server, err := api.NewServer(cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	return server.Start(ctx)
}
