package video

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"math"
	"os"

	"multicam/internal/camera"
)

// AVIヘッダーの固定レイアウト
//
//	RIFF 'AVI '
//	  LIST 'hdrl'
//	    avih
//	    LIST 'strl'
//	      strh
//	      strf (BITMAPINFOHEADER)
//	  LIST 'movi'
//	    00dc ...
//	idx1
const (
	aviHeaderSize  = 224
	aviMoviFourCC  = 220 // 'movi' の位置。idx1のオフセット基準
	aviHasIndex    = 0x10
	aviKeyFrame    = 0x10
	aviChunkHeader = 8
)

type aviIndexEntry struct {
	offset uint32
	size   uint32
}

// AVIWriter は非圧縮 / MJPG のAVIをGoだけで書き出すRecorder
type AVIWriter struct {
	file     *os.File
	w        *bufio.Writer
	codec    Codec
	rate     float64
	quality  int
	width    int
	height   int
	pos      int64
	maxChunk uint32
	index    []aviIndexEntry
	buf      bytes.Buffer
}

// NewAVIWriter は新しいAVIWriterを作成する
func NewAVIWriter() *AVIWriter {
	return &AVIWriter{}
}

// Open はオプションを検証し、ヘッダー領域を確保してファイルを開く
func (a *AVIWriter) Open(path string, opt Option) error {
	if a.file != nil {
		return errors.New("AVIファイルは既に開かれています")
	}
	if err := opt.Validate(); err != nil {
		return err
	}

	switch o := opt.(type) {
	case AVIOption:
		a.codec = CodecUncompressed
	case MJPGOption:
		a.codec = CodecMJPG
		a.quality = o.Quality
	default:
		return fmt.Errorf("%w: native/%s", ErrUnsupportedCodec, opt.Codec())
	}
	a.rate = opt.Rate()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("AVIファイルの作成に失敗: %w", err)
	}
	a.file = f
	a.w = bufio.NewWriter(f)
	a.index = a.index[:0]
	a.width, a.height = 0, 0
	a.maxChunk = 0

	// ヘッダーはClose時に書き直す
	if _, err := a.w.Write(make([]byte, aviHeaderSize)); err != nil {
		_ = f.Close()
		a.file = nil
		return fmt.Errorf("AVIヘッダーの書き込みに失敗: %w", err)
	}
	a.pos = aviHeaderSize
	return nil
}

// Append はフレームを1チャンクとして追記する
func (a *AVIWriter) Append(f *camera.Frame) error {
	if a.file == nil {
		return errors.New("AVIファイルが開かれていません")
	}
	if len(a.index) == 0 {
		a.width, a.height = f.Width, f.Height
	} else if f.Width != a.width || f.Height != a.height {
		return fmt.Errorf("フレームサイズが一致しません: %dx%d (期待値 %dx%d)", f.Width, f.Height, a.width, a.height)
	}

	a.buf.Reset()
	switch a.codec {
	case CodecMJPG:
		if err := jpeg.Encode(&a.buf, f.Image(), &jpeg.Options{Quality: a.quality}); err != nil {
			return fmt.Errorf("JPEGエンコードに失敗: %w", err)
		}
	default:
		writeDIB(&a.buf, f)
	}

	size := uint32(a.buf.Len())
	if err := a.writeChunk("00dc", a.buf.Bytes()); err != nil {
		return err
	}
	a.index = append(a.index, aviIndexEntry{
		offset: uint32(a.pos - aviMoviFourCC),
		size:   size,
	})
	a.pos += aviChunkHeader + int64(size) + int64(size&1)
	if size > a.maxChunk {
		a.maxChunk = size
	}
	return nil
}

// Close はインデックスを書き出し、ヘッダーを確定してファイルを閉じる
func (a *AVIWriter) Close() error {
	if a.file == nil {
		return nil
	}
	defer func() {
		a.file = nil
		a.w = nil
	}()

	moviSize := uint32(a.pos - aviMoviFourCC)

	idx := make([]byte, 0, 16*len(a.index))
	for _, e := range a.index {
		idx = append(idx, "00dc"...)
		idx = binary.LittleEndian.AppendUint32(idx, aviKeyFrame)
		idx = binary.LittleEndian.AppendUint32(idx, e.offset)
		idx = binary.LittleEndian.AppendUint32(idx, e.size)
	}
	if err := a.writeChunk("idx1", idx); err != nil {
		_ = a.file.Close()
		return err
	}
	a.pos += aviChunkHeader + int64(len(idx))

	if err := a.w.Flush(); err != nil {
		_ = a.file.Close()
		return fmt.Errorf("AVIファイルの書き込みに失敗: %w", err)
	}

	header := a.header(uint32(a.pos-8), moviSize)
	if _, err := a.file.WriteAt(header, 0); err != nil {
		_ = a.file.Close()
		return fmt.Errorf("AVIヘッダーの確定に失敗: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("AVIファイルのクローズに失敗: %w", err)
	}
	return nil
}

func (a *AVIWriter) writeChunk(id string, data []byte) error {
	var hdr [aviChunkHeader]byte
	copy(hdr[:4], id)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(data)))
	if _, err := a.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("チャンク %s の書き込みに失敗: %w", id, err)
	}
	if _, err := a.w.Write(data); err != nil {
		return fmt.Errorf("チャンク %s の書き込みに失敗: %w", id, err)
	}
	if len(data)&1 == 1 {
		if err := a.w.WriteByte(0); err != nil {
			return fmt.Errorf("チャンク %s の書き込みに失敗: %w", id, err)
		}
	}
	return nil
}

func (a *AVIWriter) header(riffSize, moviSize uint32) []byte {
	frames := uint32(len(a.index))
	usPerFrame := uint32(math.Round(1e6 / a.rate))
	rate := uint32(math.Round(a.rate * 1000))

	handler, compression := "DIB ", uint32(0)
	sizeImage := uint32(dibStride(a.width) * a.height)
	if a.codec == CodecMJPG {
		handler = "MJPG"
		compression = fourCC("MJPG")
		sizeImage = uint32(a.width * a.height * 3)
	}

	b := make([]byte, 0, aviHeaderSize)
	le := binary.LittleEndian

	b = append(b, "RIFF"...)
	b = le.AppendUint32(b, riffSize)
	b = append(b, "AVI "...)

	b = append(b, "LIST"...)
	b = le.AppendUint32(b, 192)
	b = append(b, "hdrl"...)

	b = append(b, "avih"...)
	b = le.AppendUint32(b, 56)
	b = le.AppendUint32(b, usPerFrame)
	b = le.AppendUint32(b, uint32(float64(a.maxChunk)*a.rate))
	b = le.AppendUint32(b, 0) // padding granularity
	b = le.AppendUint32(b, aviHasIndex)
	b = le.AppendUint32(b, frames)
	b = le.AppendUint32(b, 0) // initial frames
	b = le.AppendUint32(b, 1) // streams
	b = le.AppendUint32(b, a.maxChunk)
	b = le.AppendUint32(b, uint32(a.width))
	b = le.AppendUint32(b, uint32(a.height))
	b = append(b, make([]byte, 16)...)

	b = append(b, "LIST"...)
	b = le.AppendUint32(b, 116)
	b = append(b, "strl"...)

	b = append(b, "strh"...)
	b = le.AppendUint32(b, 56)
	b = append(b, "vids"...)
	b = append(b, handler...)
	b = le.AppendUint32(b, 0) // flags
	b = le.AppendUint16(b, 0) // priority
	b = le.AppendUint16(b, 0) // language
	b = le.AppendUint32(b, 0) // initial frames
	b = le.AppendUint32(b, 1000)
	b = le.AppendUint32(b, rate)
	b = le.AppendUint32(b, 0) // start
	b = le.AppendUint32(b, frames)
	b = le.AppendUint32(b, a.maxChunk)
	b = le.AppendUint32(b, math.MaxUint32) // quality
	b = le.AppendUint32(b, 0)              // sample size
	b = le.AppendUint16(b, 0)
	b = le.AppendUint16(b, 0)
	b = le.AppendUint16(b, uint16(a.width))
	b = le.AppendUint16(b, uint16(a.height))

	b = append(b, "strf"...)
	b = le.AppendUint32(b, 40)
	b = le.AppendUint32(b, 40)
	b = le.AppendUint32(b, uint32(a.width))
	b = le.AppendUint32(b, uint32(a.height))
	b = le.AppendUint16(b, 1)  // planes
	b = le.AppendUint16(b, 24) // bit count
	b = le.AppendUint32(b, compression)
	b = le.AppendUint32(b, sizeImage)
	b = append(b, make([]byte, 16)...)

	b = append(b, "LIST"...)
	b = le.AppendUint32(b, moviSize)
	b = append(b, "movi"...)

	return b
}

// dibStride は4バイト境界に揃えたBGR24の行サイズ
func dibStride(width int) int {
	return (width*3 + 3) &^ 3
}

// writeDIB はフレームをボトムアップのBGR24で書き出す
func writeDIB(w io.Writer, f *camera.Frame) {
	rgb := f.RGB()
	stride := dibStride(f.Width)
	row := make([]byte, stride)
	for y := f.Height - 1; y >= 0; y-- {
		src := rgb[y*f.Width*3 : (y+1)*f.Width*3]
		for x := 0; x < f.Width; x++ {
			row[x*3] = src[x*3+2]
			row[x*3+1] = src[x*3+1]
			row[x*3+2] = src[x*3]
		}
		_, _ = w.Write(row)
	}
}

func fourCC(s string) uint32 {
	return binary.LittleEndian.Uint32([]byte(s))
}
