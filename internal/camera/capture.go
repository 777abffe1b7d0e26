package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

const (
	defaultFFmpegPath         = "ffmpeg"
	defaultWorkerStartTimeout = 5 * time.Second
	defaultCloseTimeout       = 2 * time.Second
	maxJPEGSize               = 16 * 1024 * 1024
)

// ffmpegSession はffmpegサブプロセスからMJPEGを読み取るセッション
type ffmpegSession struct {
	baseSession

	tracker *WorkerTracker
	logger  *slog.Logger

	closeTimeout time.Duration
	exited       chan struct{}
	teardown     sync.Once

	stdout    *os.File
	stderr    *os.File
	pipesOnce sync.Once
}

// openFFmpeg はffmpegを起動し、ワーカーの起動を確認してからセッションを返す
func openFFmpeg(ctx context.Context, src SourceConfig, tracker *WorkerTracker, logger *slog.Logger) (Session, error) {
	backend := src.Backend
	if backend == BackendAuto || backend == "" {
		backend = BackendFFmpeg
	}

	args, err := buildFFmpegArgs(backend, src.Source, src.Resolution, runtime.GOOS)
	if err != nil {
		return nil, &OpenError{Source: src.Source, Backend: backend, Err: err}
	}

	// V4L2デバイスは存在確認を先に行い、ffmpegの起動待ちを避ける
	if device, ok := v4l2Device(backend, src.Source, runtime.GOOS); ok {
		if !NewLinuxDiscovery().IsDeviceAvailable(ctx, device) {
			return nil, &OpenError{Source: src.Source, Backend: backend, Err: fmt.Errorf("デバイスが利用できません: %s", device)}
		}
	}
	if backend == BackendX11 {
		if display := x11Display(src.Source); !IsDisplayAvailable(ctx, display) {
			return nil, &OpenError{Source: src.Source, Backend: backend, Err: fmt.Errorf("ディスプレイに接続できません: %s", display)}
		}
	}

	path := src.FFmpegPath
	if path == "" {
		path = defaultFFmpegPath
	}
	startTimeout := src.WorkerStartTimeout
	if startTimeout <= 0 {
		startTimeout = defaultWorkerStartTimeout
	}
	closeTimeout := src.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}

	// 起動前のワーカー集合を記録する
	before, err := tracker.Snapshot(ctx)
	if err != nil {
		return nil, &OpenError{Source: src.Source, Backend: backend, Err: err}
	}

	// 標準出力・標準エラーは自前のパイプで受ける。cmd.Waitはこれらを閉じないので、
	// ffmpeg終了後もパイプに残ったフレームを最後まで読める
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &OpenError{Source: src.Source, Backend: backend, Err: fmt.Errorf("stdoutパイプの作成に失敗: %w", err)}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdout.Close()
		_ = stdoutW.Close()
		return nil, &OpenError{Source: src.Source, Backend: backend, Err: fmt.Errorf("stderrパイプの作成に失敗: %w", err)}
	}

	cmd := exec.Command(path, args...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	startErr := cmd.Start()
	// 書き込み側は子プロセスだけが持つ
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, &OpenError{Source: src.Source, Backend: backend, Err: fmt.Errorf("ffmpegの起動に失敗: %w", startErr)}
	}

	s := &ffmpegSession{
		tracker:      tracker,
		closeTimeout: closeTimeout,
		exited:       make(chan struct{}),
		stdout:       stdout,
		stderr:       stderr,
	}
	s.init(backend, src.Source)
	s.logger = logger.With("generation", s.info.Generation, "backend", backend)

	// stderrは行単位でログに流す
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Debug("ffmpeg", "line", scanner.Text())
		}
	}()

	go func() {
		err := cmd.Wait()
		s.logger.Debug("ffmpegが終了しました", "error", err)
		close(s.exited)
	}()

	// 新しいワーカーが現れるまで待つ。途中でffmpegが終了したら失敗とする
	waitCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.exited:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	launched := int32(cmd.Process.Pid)
	pid, err := tracker.AwaitNew(waitCtx, before, launched)
	if err != nil {
		_ = cmd.Process.Kill()
		s.closePipes()
		return nil, &OpenError{Source: src.Source, Backend: backend, Err: err}
	}
	if pid != launched {
		s.logger.Warn("起動したプロセスの子孫をワーカーとして扱います", "launched", launched, "pid", pid)
	}
	s.info.WorkerPID = pid
	s.logger.Info("ffmpegワーカーを確認しました", "pid", pid, "args", strings.Join(args, " "))

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxJPEGSize)
	scanner.Split(splitJPEG)

	s.startPump(func() (*Frame, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
		}
		return NewFrame(img), nil
	}, s.closePipes)

	return s, nil
}

// Close はワーカーに終了要求を送り、一定時間内に終了しなければ強制終了する
func (s *ffmpegSession) Close() error {
	var err error
	s.teardown.Do(func() {
		s.stop()
		ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
		defer cancel()

		if terr := s.tracker.Terminate(ctx, s.info.WorkerPID); terr != nil {
			s.logger.Warn("ffmpegへの終了要求に失敗", "pid", s.info.WorkerPID, "error", terr)
		}

		select {
		case <-s.exited:
		case <-ctx.Done():
			s.logger.Warn("ffmpegが終了しないため強制終了します", "pid", s.info.WorkerPID)
			err = s.kill()
		}
		s.closePipes()
	})
	return err
}

// Kill はこの世代のワーカーだけを強制終了する
func (s *ffmpegSession) Kill() error {
	var err error
	s.teardown.Do(func() {
		s.stop()
		err = s.kill()
		s.closePipes()
	})
	return err
}

// closePipes はパイプの読み取り側を閉じる
// ワーカーの子プロセスが書き込み側を持ち続けていても読み取りゴルーチンを止められる
func (s *ffmpegSession) closePipes() {
	s.pipesOnce.Do(func() {
		_ = s.stdout.Close()
		_ = s.stderr.Close()
	})
}

func (s *ffmpegSession) kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
	defer cancel()

	if err := s.tracker.Kill(ctx, s.info.WorkerPID); err != nil {
		// 既に終了していれば問題ない
		select {
		case <-s.exited:
			return nil
		default:
		}
		return fmt.Errorf("ffmpeg (pid %d) の強制終了に失敗: %w", s.info.WorkerPID, err)
	}

	select {
	case <-s.exited:
	case <-ctx.Done():
	}
	return nil
}

// buildFFmpegArgs はバックエンドとプラットフォームに応じたffmpeg引数を組み立てる
func buildFFmpegArgs(backend Backend, source string, res Resolution, goos string) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	videoSize := func() []string {
		if res.Width > 0 && res.Height > 0 {
			return []string{"-video_size", res.String()}
		}
		return nil
	}

	switch backend {
	case BackendX11:
		display := source
		if display == "" || isDeviceIndex(display) {
			display = x11Display(display)
		}
		args = append(args, "-f", "x11grab")
		args = append(args, videoSize()...)
		args = append(args, "-i", display)

	case BackendFFmpeg:
		switch {
		case source == "":
			return nil, errors.New("ソースが指定されていません")
		case isURL(source):
			if strings.HasPrefix(source, "rtsp://") {
				args = append(args, "-rtsp_transport", "tcp")
			}
			args = append(args, "-i", source)
		case goos == "darwin":
			args = append(args, "-f", "avfoundation", "-framerate", "30")
			args = append(args, videoSize()...)
			args = append(args, "-i", source)
		case goos == "linux" && isV4L2Source(source):
			device, _ := v4l2Device(backend, source, goos)
			args = append(args, "-f", "v4l2")
			args = append(args, videoSize()...)
			args = append(args, "-i", device)
		default:
			args = append(args, "-i", source)
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)
	}

	return append(args, "-an", "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "3", "-"), nil
}

// v4l2Device はLinuxでのV4L2デバイスパスを返す
func v4l2Device(backend Backend, source, goos string) (string, bool) {
	if goos != "linux" || backend != BackendFFmpeg || isURL(source) {
		return "", false
	}
	if isDeviceIndex(source) {
		return "/dev/video" + source, true
	}
	if strings.HasPrefix(source, "/dev/video") {
		return source, true
	}
	return "", false
}

func isV4L2Source(source string) bool {
	return isDeviceIndex(source) || strings.HasPrefix(source, "/dev/video")
}

func isDeviceIndex(source string) bool {
	n, err := strconv.Atoi(source)
	return err == nil && n >= 0
}

func isURL(source string) bool {
	return strings.Contains(source, "://")
}

// splitJPEG はSOI(FFD8)からEOI(FFD9)までを1トークンとして切り出すbufio.SplitFunc
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 末尾の0xFFはSOIの前半かもしれないので残す
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 完全なフレームがまだないので、SOI以前を捨てて追加データを待つ
		return start, nil, nil
	}

	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}
