// Package capture は全カメラからフレームを同じ番号ごとに揃えて収集し、動画に書き出す
//
// # 責務
// - カメラごとに1つの収集タスクを取得期間中ずっと動かす
// - フレーム番号ごとのバリアで、全カメラが同じ番号を終えてから次に進む
// - 不完全フレーム・変換失敗・タイムアウトはスキップして続行する
// - 全タスクの終了後にだけバッファを書き出しへ渡す
//
// # 出力
// - カメラ番号ごとの確認用静止画 (snapshot_cam_<番号>.<拡張子>)
// - シリアル番号とコーデックごとの動画ファイル
package capture
