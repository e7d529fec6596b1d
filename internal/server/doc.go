// Package server は、撮影中の状態を公開するHTTPサーバーを管理します。
//
// このパッケージは、収集の進み具合、カメラごとの統計、書き出し結果を
// JSONで返し、最新フレームのプレビューとPrometheusメトリクスを配信します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - 実行状態とカメラ一覧のJSON API
//   - 最新フレームの静止画とMJPEGプレビューの配信
//   - /metrics の公開
//
// 仕様:
//   - ルーティングはginを使用
//   - 状態はStatusProviderから読み取るだけで、撮影には干渉しない
//   - グレースフルシャットダウンに対応
package server
