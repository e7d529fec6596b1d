package camera

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// Frame は変換済みの1フレーム。変換後は変更しない
type Frame struct {
	CameraIndex int         // 取得したカメラの番号
	Index       int         // 名目上のフレーム番号
	Width       int         // 画像幅
	Height      int         // 画像高さ
	Format      PixelFormat // 変換後のピクセルフォーマット
	Pix         []byte      // 画素データ（行優先、パディングなし）
	Timestamp   time.Time   // 取得時刻
}

// Stride は1行あたりのバイト数を返す
func (f *Frame) Stride() int {
	return f.Width * f.Format.BytesPerPixel()
}

// ConvertImage は任意の画像を指定フォーマットのFrameに変換する
func ConvertImage(img image.Image, format PixelFormat) (*Frame, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}

	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("変換できないピクセルフォーマット: %s", format)
	}

	pix := make([]byte, w*h*bpp)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl := rgbAt(img, b.Min.X+x, b.Min.Y+y)
			switch format {
			case PixelFormatMono8:
				pix[y*w+x] = color.GrayModel.Convert(color.RGBA{R: r, G: g, B: bl, A: 0xff}).(color.Gray).Y
			case PixelFormatRGB8:
				i := (y*w + x) * 3
				pix[i], pix[i+1], pix[i+2] = r, g, bl
			case PixelFormatBGR8:
				i := (y*w + x) * 3
				pix[i], pix[i+1], pix[i+2] = bl, g, r
			case PixelFormatBayerRG8:
				// RGGB
				switch {
				case y%2 == 0 && x%2 == 0:
					pix[y*w+x] = r
				case y%2 == 1 && x%2 == 1:
					pix[y*w+x] = bl
				default:
					pix[y*w+x] = g
				}
			}
		}
	}

	return &Frame{
		Width:     w,
		Height:    h,
		Format:    format,
		Pix:       pix,
		Timestamp: time.Now(),
	}, nil
}

func rgbAt(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch src := img.(type) {
	case *image.RGBA:
		i := src.PixOffset(x, y)
		return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
	case *image.Gray:
		v := src.Pix[src.PixOffset(x, y)]
		return v, v, v
	default:
		r, g, b, _ := img.At(x, y).RGBA()
		return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
	}
}

// Image はFrameを表示・保存用の image.Image に戻す
func (f *Frame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Format {
	case PixelFormatMono8:
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: rect}
	case PixelFormatBayerRG8:
		return f.demosaic()
	}

	out := image.NewRGBA(rect)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, b := f.rgb(x, y)
			o := out.PixOffset(x, y)
			out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = r, g, b, 0xff
		}
	}
	return out
}

// RGB は画素をRGB24で詰めたバイト列を返す
func (f *Frame) RGB() []byte {
	if f.Format == PixelFormatRGB8 {
		return f.Pix
	}

	out := make([]byte, f.Width*f.Height*3)
	var img *image.RGBA
	if f.Format == PixelFormatBayerRG8 {
		img = f.demosaic()
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := (y*f.Width + x) * 3
			if img != nil {
				o := img.PixOffset(x, y)
				out[i], out[i+1], out[i+2] = img.Pix[o], img.Pix[o+1], img.Pix[o+2]
				continue
			}
			out[i], out[i+1], out[i+2] = f.rgb(x, y)
		}
	}
	return out
}

func (f *Frame) rgb(x, y int) (uint8, uint8, uint8) {
	switch f.Format {
	case PixelFormatMono8:
		v := f.Pix[y*f.Width+x]
		return v, v, v
	case PixelFormatRGB8:
		i := (y*f.Width + x) * 3
		return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
	case PixelFormatBGR8:
		i := (y*f.Width + x) * 3
		return f.Pix[i+2], f.Pix[i+1], f.Pix[i]
	}
	return 0, 0, 0
}

// demosaic はRGGBの2x2ブロック単位で色を復元する
func (f *Frame) demosaic() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	at := func(x, y int) uint8 {
		if x >= f.Width {
			x = f.Width - 1
		}
		if y >= f.Height {
			y = f.Height - 1
		}
		return f.Pix[y*f.Width+x]
	}

	for by := 0; by < f.Height; by += 2 {
		for bx := 0; bx < f.Width; bx += 2 {
			r := at(bx, by)
			g := uint8((int(at(bx+1, by)) + int(at(bx, by+1))) / 2)
			b := at(bx+1, by+1)
			for dy := 0; dy < 2 && by+dy < f.Height; dy++ {
				for dx := 0; dx < 2 && bx+dx < f.Width; dx++ {
					o := out.PixOffset(bx+dx, by+dy)
					out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = r, g, b, 0xff
				}
			}
		}
	}
	return out
}
