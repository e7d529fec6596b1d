package video

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotAVI はRIFF/AVIとして読めないファイルを表す
var ErrNotAVI = errors.New("AVIファイルではありません")

// Info はAVIヘッダーから読み取った情報
type Info struct {
	Path        string  `json:"path"`
	Size        int64   `json:"size"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Frames      int     `json:"frames"`
	FrameRate   float64 `json:"frame_rate"`
	Handler     string  `json:"handler"`
	Compression string  `json:"compression"`
}

// Probe はAVIファイルのヘッダーを読み取る。ffmpegが書いたファイルにも対応する
func Probe(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r := bufio.NewReader(f)
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAVI, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "AVI " {
		return nil, ErrNotAVI
	}

	info := &Info{Path: path, Size: st.Size()}
	for {
		id, size, err := readChunkHeader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: hdrl が見つかりません", ErrNotAVI)
		}
		if id != "LIST" {
			if _, err := r.Discard(int(padded(size))); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotAVI, err)
			}
			continue
		}

		body := make([]byte, padded(size))
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotAVI, err)
		}
		if size < 4 || string(body[:4]) != "hdrl" {
			continue
		}
		parseHeaderList(body[4:size], info)
		return info, nil
	}
}

func readChunkHeader(r io.Reader) (string, uint32, error) {
	var hdr [aviChunkHeader]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", 0, err
	}
	return string(hdr[:4]), binary.LittleEndian.Uint32(hdr[4:]), nil
}

func padded(size uint32) uint32 {
	return size + size&1
}

// parseHeaderList はhdrl/strl内のチャンクを走査する
func parseHeaderList(data []byte, info *Info) {
	le := binary.LittleEndian
	for len(data) >= aviChunkHeader {
		id := string(data[:4])
		size := le.Uint32(data[4:8])
		data = data[aviChunkHeader:]
		if int(size) > len(data) {
			return
		}
		body := data[:size]

		switch id {
		case "avih":
			if len(body) >= 40 {
				if us := le.Uint32(body[0:4]); us > 0 && info.FrameRate == 0 {
					info.FrameRate = 1e6 / float64(us)
				}
				info.Frames = int(le.Uint32(body[16:20]))
				info.Width = int(le.Uint32(body[32:36]))
				info.Height = int(le.Uint32(body[36:40]))
			}
		case "LIST":
			if len(body) >= 4 && string(body[:4]) == "strl" {
				parseHeaderList(body[4:], info)
			}
		case "strh":
			if len(body) >= 32 && string(body[:4]) == "vids" {
				info.Handler = string(body[4:8])
				scale := le.Uint32(body[20:24])
				rate := le.Uint32(body[24:28])
				if scale > 0 {
					info.FrameRate = float64(rate) / float64(scale)
				}
			}
		case "strf":
			if len(body) >= 20 {
				if c := le.Uint32(body[16:20]); c == 0 {
					info.Compression = "RGB"
				} else {
					info.Compression = string(body[16:20])
				}
			}
		}

		n := padded(size)
		if int(n) > len(data) {
			return
		}
		data = data[n:]
	}
}
