package workload

import (
	"time"
)

// QuickWorkload はクイックテスト用ワークロードを返す
// 4 ワーカーで 1 秒のジョブ 10 件、1 秒後に 2 ワーカーへ縮小
func QuickWorkload() Config {
	return Config{
		Name:        "quick",
		Description: "10 one-second jobs on 4 workers, shrink to 2 after 1s",
		Workers:     4,
		Jobs:        10,
		JobDuration: 1 * time.Second,
		Submitters:  1,
		Resizes: []ResizeStep{
			{After: 1 * time.Second, Workers: 2},
		},
	}
}

// GrowWorkload は実行中にワーカーを増やすワークロードを返す
func GrowWorkload() Config {
	return Config{
		Name:        "grow",
		Description: "40 jobs on 4 workers, grow to 10 mid-run",
		Workers:     4,
		Jobs:        40,
		JobDuration: 200 * time.Millisecond,
		Submitters:  2,
		Resizes: []ResizeStep{
			{After: 300 * time.Millisecond, Workers: 10},
		},
	}
}

// ShrinkWorkload は実行中にワーカーを減らすワークロードを返す
// 実行中のジョブは中断されず、次のジョブを取る時点で退役する
func ShrinkWorkload() Config {
	return Config{
		Name:        "shrink",
		Description: "32 jobs on 8 workers, shrink to 2 mid-run",
		Workers:     8,
		Jobs:        32,
		JobDuration: 200 * time.Millisecond,
		Submitters:  2,
		Resizes: []ResizeStep{
			{After: 300 * time.Millisecond, Workers: 2},
		},
	}
}

// BurstWorkload は短いジョブを大量に投入するワークロードを返す
// 多数の投入者、拡大と縮小を繰り返す
func BurstWorkload() Config {
	return Config{
		Name:        "burst",
		Description: "10000 short jobs from 8 submitters with repeated resizing",
		Workers:     4,
		Jobs:        10000,
		JobDuration: 100 * time.Microsecond,
		Submitters:  8,
		Resizes: []ResizeStep{
			{After: 20 * time.Millisecond, Workers: 16},
			{After: 60 * time.Millisecond, Workers: 2},
			{After: 100 * time.Millisecond, Workers: 8},
		},
	}
}

// DrainWorkload は一度ターゲットを 0 にしてから戻すワークロードを返す
// 0 の間はジョブがキューに残り続ける
func DrainWorkload() Config {
	return Config{
		Name:        "drain",
		Description: "Resize to 0 so jobs stay queued, then back to 4",
		Workers:     4,
		Jobs:        20,
		JobDuration: 100 * time.Millisecond,
		Submitters:  1,
		Resizes: []ResizeStep{
			{After: 50 * time.Millisecond, Workers: 0},
			{After: 500 * time.Millisecond, Workers: 4},
		},
	}
}

var presets = map[string]func() Config{
	"quick":  QuickWorkload,
	"grow":   GrowWorkload,
	"shrink": ShrinkWorkload,
	"burst":  BurstWorkload,
	"drain":  DrainWorkload,
}

// GetPreset は名前からプリセットワークロードを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"quick", "grow", "shrink", "burst", "drain"}
}

// Presets は全プリセットの設定を ListPresets の順で返す
func Presets() []Config {
	names := ListPresets()
	configs := make([]Config, 0, len(names))
	for _, name := range names {
		configs = append(configs, presets[name]())
	}
	return configs
}
