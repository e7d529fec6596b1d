package video

import (
	"errors"
	"fmt"
	"strings"

	"multicam/internal/camera"
)

// Codec は書き出す動画のエンコード方式
type Codec int

const (
	CodecUncompressed Codec = iota
	CodecMJPG
	CodecH264
)

// String はファイル名にも使うコーデック名を返す
func (c Codec) String() string {
	switch c {
	case CodecUncompressed:
		return "Uncompressed"
	case CodecMJPG:
		return "MJPG"
	case CodecH264:
		return "H264"
	default:
		return fmt.Sprintf("Codec(%d)", int(c))
	}
}

// ParseCodec は設定値の文字列をCodecに変換する
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uncompressed", "raw":
		return CodecUncompressed, nil
	case "mjpg", "mjpeg":
		return CodecMJPG, nil
	case "h264", "avc":
		return CodecH264, nil
	default:
		return 0, fmt.Errorf("サポートされていないコーデック: %s", s)
	}
}

// ErrMissingOption はコーデックの必須パラメータが不足していることを表す
var ErrMissingOption = errors.New("必須オプションが設定されていません")

// Option はコーデックごとのオプション
type Option interface {
	Codec() Codec
	Rate() float64
	// Validate は必須パラメータがすべて設定されているか検証する
	Validate() error
}

// AVIOption は非圧縮AVIのオプション
type AVIOption struct {
	FrameRate float64
}

func (o AVIOption) Codec() Codec  { return CodecUncompressed }
func (o AVIOption) Rate() float64 { return o.FrameRate }

func (o AVIOption) Validate() error {
	return validateRate(o.FrameRate)
}

// MJPGOption はMJPG AVIのオプション
type MJPGOption struct {
	FrameRate float64
	Quality   int // 1-100
}

func (o MJPGOption) Codec() Codec  { return CodecMJPG }
func (o MJPGOption) Rate() float64 { return o.FrameRate }

func (o MJPGOption) Validate() error {
	if err := validateRate(o.FrameRate); err != nil {
		return err
	}
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("%w: quality=%d (1-100)", ErrMissingOption, o.Quality)
	}
	return nil
}

// H264Option はH264 AVIのオプション。幅・高さは事前に必要
type H264Option struct {
	FrameRate float64
	Bitrate   int
	Width     int
	Height    int
}

func (o H264Option) Codec() Codec  { return CodecH264 }
func (o H264Option) Rate() float64 { return o.FrameRate }

func (o H264Option) Validate() error {
	if err := validateRate(o.FrameRate); err != nil {
		return err
	}
	if o.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate", ErrMissingOption)
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("%w: width/height (%dx%d)", ErrMissingOption, o.Width, o.Height)
	}
	return nil
}

func validateRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("%w: frameRate", ErrMissingOption)
	}
	return nil
}

// Params はコーデック固有の設定値
type Params struct {
	Quality int // MJPG品質
	Bitrate int // H264ビットレート (bps)
}

// DefaultParams はデフォルトのコーデック設定を返す
func DefaultParams() Params {
	return Params{
		Quality: 30,
		Bitrate: 5000000,
	}
}

// BuildOption はコーデックに応じたOptionを組み立てる。H264の幅・高さは先頭フレームから取る
func BuildOption(codec Codec, frameRate float64, params Params, first *camera.Frame) (Option, error) {
	switch codec {
	case CodecUncompressed:
		return AVIOption{FrameRate: frameRate}, nil
	case CodecMJPG:
		return MJPGOption{FrameRate: frameRate, Quality: params.Quality}, nil
	case CodecH264:
		opt := H264Option{FrameRate: frameRate, Bitrate: params.Bitrate}
		if first != nil {
			opt.Width, opt.Height = first.Width, first.Height
		}
		return opt, nil
	default:
		return nil, fmt.Errorf("不明なコーデック: %s", codec)
	}
}
