package camera

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// SourceCreator はバックエンド固有のセッション作成関数
type SourceCreator func(ctx context.Context, src SourceConfig) (Session, error)

// SourceFactory はバックエンド指定に応じてセッションを開くOpener
type SourceFactory struct {
	creators map[Backend]SourceCreator
	logger   *slog.Logger
}

// NewSourceFactory は標準バックエンドを登録したファクトリーを作成する
func NewSourceFactory(logger *slog.Logger) *SourceFactory {
	if logger == nil {
		logger = slog.Default()
	}

	f := &SourceFactory{
		creators: make(map[Backend]SourceCreator),
		logger:   logger,
	}

	tracker := NewWorkerTracker(NewSystemProcessLister(), "ffmpeg")
	ffmpeg := func(ctx context.Context, src SourceConfig) (Session, error) {
		return openFFmpeg(ctx, src, tracker, logger)
	}
	f.Register(BackendFFmpeg, ffmpeg)
	f.Register(BackendX11, ffmpeg)
	f.Register(BackendOpenCV, openOpenCV)
	f.Register(BackendMJPEG, func(ctx context.Context, src SourceConfig) (Session, error) {
		return openMJPEG(ctx, src, http.DefaultClient)
	})

	return f
}

// Register はバックエンドの作成関数を登録する
func (f *SourceFactory) Register(backend Backend, creator SourceCreator) {
	f.creators[backend] = creator
}

// Open はバックエンドを決定してセッションを開く
func (f *SourceFactory) Open(ctx context.Context, src SourceConfig) (Session, error) {
	backend := ResolveBackend(src.Backend, src.Source)
	creator, exists := f.creators[backend]
	if !exists {
		return nil, &OpenError{Source: src.Source, Backend: backend, Err: fmt.Errorf("%w: %s", ErrUnsupportedBackend, backend)}
	}

	src.Backend = backend
	return creator(ctx, src)
}

// SupportedBackends は登録済みのバックエンドを返す
func (f *SourceFactory) SupportedBackends() []Backend {
	backends := make([]Backend, 0, len(f.creators))
	for b := range f.creators {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}

// ResolveBackend はautoをソースに応じた具体的なバックエンドに置き換える
func ResolveBackend(backend Backend, source string) Backend {
	if backend != BackendAuto && backend != "" {
		return backend
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return BackendMJPEG
	}
	return BackendFFmpeg
}
