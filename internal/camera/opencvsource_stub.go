//go:build !opencv

package camera

import (
	"context"
	"errors"
)

// openOpenCV は opencv タグ無しでビルドされた場合にエラーを返す
func openOpenCV(_ context.Context, src SourceConfig) (Session, error) {
	return nil, &OpenError{
		Source:  src.Source,
		Backend: BackendOpenCV,
		Err:     errors.New("opencv タグ無しでビルドされています (go build -tags opencv)"),
	}
}
