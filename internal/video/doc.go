// Package video はカメラごとのフレームバッファを動画ファイルに書き出す
//
// # 責務
// - コーデック選択と必須パラメータの検証
// - フレームを取得順にエンコーダーへ追加し、ファイルを確定する
// - 書き出したAVIファイルのヘッダー読み取り
//
// # 仕様
// - Uncompressed: フレームレートのみ必須
// - MJPG: フレームレート + 品質
// - H264: フレームレート + ビットレート + 幅・高さ（先頭フレームから設定）
// - native: 非圧縮 / MJPG をGoだけでAVIに書き出す
// - ffmpeg: 生フレームをffmpegにパイプし、3種類すべてに対応する
//
// # 前提要件
//   - ffmpeg: H264の書き出しに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
package video
