package camera

import (
	"image"
)

// TestPattern はカメラ番号とフレーム番号に応じて動くカラーバーを生成する
func TestPattern(width, height, camera, seq int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bars := [][3]uint8{
		{0xff, 0xff, 0xff},
		{0xff, 0xff, 0x00},
		{0x00, 0xff, 0xff},
		{0x00, 0xff, 0x00},
		{0xff, 0x00, 0xff},
		{0xff, 0x00, 0x00},
		{0x00, 0x00, 0xff},
	}

	barWidth := width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	shift := seq * 4
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := bars[((x+shift)/barWidth+camera)%len(bars)]
			o := img.PixOffset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = c[0], c[1], c[2], 0xff
		}
	}
	return img
}
