package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var deviceNumberPattern = regexp.MustCompile(`video(\d+)$`)

// LinuxDiscovery はLinux環境でのV4L2デバイス検出を実装する
type LinuxDiscovery struct {
	// infoFn はv4l2-ctl --info の出力を返す。テストで差し替える
	infoFn func(ctx context.Context, device string) (string, error)
	// formatsFn はv4l2-ctl --list-formats-ext の出力を返す
	formatsFn func(ctx context.Context, device string) (string, error)
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{
		infoFn:    v4l2Ctl("--info"),
		formatsFn: v4l2Ctl("--list-formats-ext"),
	}
}

func v4l2Ctl(arg string) func(ctx context.Context, device string) (string, error) {
	return func(ctx context.Context, device string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, arg).Output()
		return string(out), err
	}
}

// ScanDevices は /dev/video* から取得可能なカラーカメラを番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seen := make(map[string]bool) // 同じ物理カメラの別チャンネルを除外する
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) || !d.isColorCapture(ctx, match) {
			continue
		}

		key := match
		if raw, err := d.infoFn(ctx, match); err == nil {
			if info := parseV4L2Info(raw); info.Name != "" {
				key = info.Name + "@" + info.SerialNumber
			}
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが開けるかチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !deviceNumberPattern.MatchString(device) {
		return false
	}
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo はv4l2-ctlの出力からデバイス情報を組み立てる
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	info := DeviceInfo{Driver: "uvcvideo"}
	if raw, err := d.infoFn(ctx, device); err == nil {
		info = parseV4L2Info(raw)
	}
	info.Device = device
	if info.Name == "" {
		info.Name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}
	if info.SerialNumber == "" {
		info.SerialNumber = fmt.Sprintf("video%d", extractDeviceNumber(device))
	}
	if raw, err := d.formatsFn(ctx, device); err == nil {
		info.Formats = parseFormats(raw)
	}

	return &info, nil
}

// isColorCapture はYUYVかMJPGを出力できるデバイスかどうかを判定する
// グレースケールのみのチャンネル（IRセンサー等）は除外する
func (d *LinuxDiscovery) isColorCapture(ctx context.Context, device string) bool {
	raw, err := d.formatsFn(ctx, device)
	if err != nil {
		return false
	}
	for _, f := range parseFormats(raw) {
		if f == "YUYV" || f == "MJPG" {
			return true
		}
	}
	return false
}

// parseV4L2Info は "Driver name", "Card type", "Bus info" 等の行を読み取る
func parseV4L2Info(raw string) DeviceInfo {
	var info DeviceInfo
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Driver name":
			info.Driver = value
		case "Card type":
			info.Name = value
			info.Model = value
		case "Bus info":
			info.SerialNumber = sanitizeSerial(value)
		}
	}
	return info
}

var formatPattern = regexp.MustCompile(`\[\d+\]: '(\w+)'`)

func parseFormats(raw string) []string {
	var formats []string
	for _, m := range formatPattern.FindAllStringSubmatch(raw, -1) {
		formats = append(formats, m[1])
	}
	return formats
}

// sanitizeSerial はファイル名に使えるようバス情報を整形する
func sanitizeSerial(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}
	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	devices     []string
	deviceInfos map[string]*DeviceInfo
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	out := make([]string, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

// IsDeviceAvailable はモックデバイスが登録済みかチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}
	result := *info
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	if _, ok := m.deviceInfos[device]; ok {
		return
	}
	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		Device:       device,
		Name:         fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver:       "mock",
		SerialNumber: fmt.Sprintf("usb-mock-%d", len(m.devices)),
		Resolutions:  []Resolution{{Width: 640, Height: 480}, {Width: 1280, Height: 720}},
		Formats:      []string{"MJPG"},
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}
