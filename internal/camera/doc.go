// Package camera はカメラSDKの機能面とデバイスセッションの管理を担う
//
// # 責務
// - カメラデバイスの列挙と初期化・解放
// - 取得モード（連続取得）の設定と取得開始・停止
// - フレームの取得とピクセルフォーマット変換
// - セッション終了時の確実なリソース解放
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 複数カメラを1つのセッションとしてまとめて開始・停止したい
// - バックエンド（シミュレーション / V4L2 / モック）を差し替えたい
//
// # 仕様
// - System: デバイス列挙とSDK全体の解放（プロセス全体のシングルトンではなく明示的なオブジェクト）
// - Device: 個別デバイスの Init / DeInit / 取得モード / 取得開始・停止 / フレーム取得
// - Image: SDKが所有するフレーム。変換後は必ず Release する
// - Session: Handle ごとに初期化・解放を厳密に1回ずつ行う
//
// # 前提要件
//   - V4L2バックエンドは Linux のみ対応
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
