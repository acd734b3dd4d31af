// Package workload はワーカープールに対する負荷シナリオの実行機能を提供する。
//
// エンジンはプールを作成し、一定時間スリープするジョブを並行に投入し、
// 予定どおりにリサイズを行い、全ジョブの完了を待ってから
// 各ジョブがちょうど 1 回実行されたことを検証する。
//
// # 機能
//
// - ワークロード定義と実行
// - 定義済みプリセット
// - 実行結果のレポート生成
//
// # プリセット
//
// - quick: 4 ワーカーで 1 秒のジョブを 10 件、1 秒後に 2 へ縮小
// - grow: 4 ワーカーで 40 件、途中で 10 へ拡大
// - shrink: 8 ワーカーから 2 へ縮小
// - burst: 多数の投入者による短いジョブの大量投入
// - drain: 一度 0 に縮小してから元に戻す
//
// # 使用例
//
//	config := workload.GrowWorkload()
//	engine := workload.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package workload
