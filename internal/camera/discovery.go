package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device string `json:"device"` // デバイスパス
	Name   string `json:"name"`   // デバイス名
	Index  int    `json:"index"`  // ソース指定に使える番号
}

var videoDevicePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

// LinuxDiscovery はLinux環境でのV4L2デバイス検出を実装する
type LinuxDiscovery struct{}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() Discovery {
	return &LinuxDiscovery{}
}

// ScanDevices は /dev/video* を番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if d.IsDeviceAvailable(ctx, match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// IsDeviceAvailable はデバイスファイルが存在し読み取り可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !videoDevicePattern.MatchString(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	num := extractDeviceNumber(device)
	name := v4l2DeviceName(ctx, device)
	if name == "" {
		name = fmt.Sprintf("カメラ %d", num)
	}

	return &DeviceInfo{Device: device, Name: name, Index: num}, nil
}

// v4l2DeviceName はv4l2-ctlの "Card type" からカメラ名を取得する
func v4l2DeviceName(ctx context.Context, device string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info").Output()
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// IsDisplayAvailable はX11ディスプレイに接続できるかをxdpyinfoで確認する
// xdpyinfoが無い環境では確認できないためtrueを返す
func IsDisplayAvailable(ctx context.Context, display string) bool {
	if _, err := exec.LookPath("xdpyinfo"); err != nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "xdpyinfo", "-display", display).Run() == nil
}

// x11Display はx11grabに渡すディスプレイ名を返す
// "+x,y" のオフセット指定は取り除く
func x11Display(source string) string {
	if source == "" || isDeviceIndex(source) {
		return ":0.0"
	}
	if i := strings.Index(source, "+"); i > 0 {
		return source[:i]
	}
	return source
}

// extractDeviceNumber は /dev/videoXX から XX を取り出す
func extractDeviceNumber(device string) int {
	matches := videoDevicePattern.FindStringSubmatch(device)
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
	mu      sync.RWMutex
	devices []string
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	return &MockDiscovery{devices: append([]string(nil), devices...)}
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが登録済みかチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.devices, device)
}

// GetDeviceInfo はモックデバイス情報を返す
func (m *MockDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !m.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}
	num := extractDeviceNumber(device)
	return &DeviceInfo{Device: device, Name: fmt.Sprintf("テストカメラ %d", num), Index: num}, nil
}

// AddDevice はモックデバイスを追加する（重複は無視）
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(m.devices, device) {
		m.devices = append(m.devices, device)
	}
}

// RemoveDevice はモックデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = slices.DeleteFunc(m.devices, func(d string) bool { return d == device })
}
