package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"respool/internal/logger"
	"respool/internal/worker"
	"respool/internal/workload"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Pool     PoolConfig     `yaml:"pool" json:"pool"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Workload WorkloadConfig `yaml:"workload" json:"workload"`
	Server   ServerConfig   `yaml:"server" json:"server"`
}

// PoolConfig はプール設定
type PoolConfig struct {
	Workers int    `yaml:"workers" json:"workers"`
	Name    string `yaml:"name" json:"name"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// WorkloadConfig はワークロード設定
type WorkloadConfig struct {
	Preset      string         `yaml:"preset" json:"preset"`
	Description string         `yaml:"description" json:"description"`
	Jobs        int            `yaml:"jobs" json:"jobs"`
	JobDuration string         `yaml:"job_duration" json:"job_duration"`
	Submitters  int            `yaml:"submitters" json:"submitters"`
	Resizes     []ResizeConfig `yaml:"resizes" json:"resizes"`
}

// ResizeConfig はリサイズ予定の 1 ステップ
type ResizeConfig struct {
	After   string `yaml:"after" json:"after"`
	Workers int    `yaml:"workers" json:"workers"`
}

// ServerConfig はAPIサーバー設定
type ServerConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	EventBuffer int    `yaml:"event_buffer" json:"event_buffer"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToPoolConfig はFileConfigをworker.PoolConfigに変換する
func (f *FileConfig) ToPoolConfig() worker.PoolConfig {
	config := worker.DefaultPoolConfig()

	if f.Pool.Workers > 0 {
		config.NumWorkers = f.Pool.Workers
	}
	if f.Pool.Name != "" {
		config.Name = f.Pool.Name
	}

	return config
}

// ToWorkloadConfig はFileConfigをworkload.Configに変換する
// プリセット指定があればそれを、なければデフォルトを起点にする
func (f *FileConfig) ToWorkloadConfig() (workload.Config, error) {
	wc := f.Workload

	config := workload.DefaultConfig()
	if wc.Preset != "" {
		preset, ok := workload.GetPreset(wc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s", wc.Preset)
		}
		config = preset
	}

	if f.Pool.Name != "" {
		config.Name = f.Pool.Name
	}
	if f.Pool.Workers > 0 {
		config.Workers = f.Pool.Workers
	}
	if wc.Description != "" {
		config.Description = wc.Description
	}
	if wc.Jobs > 0 {
		config.Jobs = wc.Jobs
	}
	if wc.JobDuration != "" {
		d, err := time.ParseDuration(wc.JobDuration)
		if err != nil {
			return config, fmt.Errorf("invalid job duration: %w", err)
		}
		config.JobDuration = d
	}
	if wc.Submitters > 0 {
		config.Submitters = wc.Submitters
	}
	if len(wc.Resizes) > 0 {
		steps, err := parseResizes(wc.Resizes)
		if err != nil {
			return config, err
		}
		config.Resizes = steps
	}

	return config, nil
}

// parseResizes はリサイズ予定をパースする
func parseResizes(resizes []ResizeConfig) ([]workload.ResizeStep, error) {
	steps := make([]workload.ResizeStep, 0, len(resizes))

	for i, r := range resizes {
		d, err := time.ParseDuration(r.After)
		if err != nil {
			return nil, fmt.Errorf("invalid resizes[%d].after: %w", i, err)
		}
		steps = append(steps, workload.ResizeStep{After: d, Workers: r.Workers})
	}

	return steps, nil
}

// LogLevel はログレベルを返す。未指定なら Info
func (f *FileConfig) LogLevel() (logger.Level, error) {
	if f.Log.Level == "" {
		return logger.LevelInfo, nil
	}
	return logger.ParseLevel(f.Log.Level)
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.Workers < 0 {
		return fmt.Errorf("pool.workers must be non-negative")
	}

	if _, err := f.LogLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	wc := f.Workload
	if wc.Jobs < 0 {
		return fmt.Errorf("workload.jobs must be non-negative")
	}
	if wc.Submitters < 0 {
		return fmt.Errorf("workload.submitters must be non-negative")
	}
	if wc.JobDuration != "" {
		d, err := time.ParseDuration(wc.JobDuration)
		if err != nil {
			return fmt.Errorf("workload.job_duration: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("workload.job_duration must be non-negative")
		}
	}
	for i, r := range wc.Resizes {
		if r.Workers < 0 {
			return fmt.Errorf("workload.resizes[%d].workers must be non-negative", i)
		}
		if _, err := time.ParseDuration(r.After); err != nil {
			return fmt.Errorf("workload.resizes[%d].after: %w", i, err)
		}
	}
	if wc.Preset != "" {
		if _, ok := workload.GetPreset(wc.Preset); !ok {
			return fmt.Errorf("workload.preset: unknown preset %q", wc.Preset)
		}
	}

	if f.Server.EventBuffer < 0 {
		return fmt.Errorf("server.event_buffer must be non-negative")
	}

	return nil
}
