package camera

import (
	"bytes"
	"image"
	"time"

	"golang.org/x/image/draw"
)

// Frame はデコード済みの1フレーム
// FrameStoreに公開された後は不変として扱う
type Frame struct {
	Image      *image.RGBA // 原点(0,0)に正規化されたRGBA画像
	Seq        uint64      // FrameStoreが付与する通し番号
	Generation string      // 取得したセッションの世代ID
	CapturedAt time.Time   // 取得時刻
}

// NewFrame は任意の画像から新しいFrameを作成する
// 画像は常にコピーされるため、呼び出し元のバッファを再利用しても安全
func NewFrame(img image.Image) *Frame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Frame{
		Image:      rgba,
		CapturedAt: time.Now(),
	}
}

// Width は画像幅を返す
func (f *Frame) Width() int {
	return f.Image.Rect.Dx()
}

// Height は画像高さを返す
func (f *Frame) Height() int {
	return f.Image.Rect.Dy()
}

// Resolution は画像の解像度を返す
func (f *Frame) Resolution() Resolution {
	return Resolution{Width: f.Width(), Height: f.Height()}
}

// Equal は画素内容が完全に一致するかを判定する
// Seq や取得時刻などのメタデータは比較しない
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.Image.Rect != other.Image.Rect {
		return false
	}
	return bytes.Equal(f.Image.Pix, other.Image.Pix)
}

// Rotate180 は180度回転した新しいFrameを返す
func (f *Frame) Rotate180() *Frame {
	src := f.Image.Pix
	dst := make([]byte, len(src))
	n := len(src) / 4
	for i := 0; i < n; i++ {
		j := n - 1 - i
		copy(dst[j*4:j*4+4], src[i*4:i*4+4])
	}

	out := *f
	out.Image = &image.RGBA{
		Pix:    dst,
		Stride: f.Image.Stride,
		Rect:   f.Image.Rect,
	}
	return &out
}

// Resize は指定解像度にスケーリングした新しいFrameを返す
// 片方の辺が0の場合はアスペクト比を保って補完する
func (f *Frame) Resize(res Resolution) *Frame {
	target := f.fitResolution(res)
	if target == f.Resolution() {
		return f
	}

	dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.Image, f.Image.Bounds(), draw.Src, nil)

	out := *f
	out.Image = dst
	return &out
}

// fitResolution は未指定の辺を元画像の比率から補完する
func (f *Frame) fitResolution(res Resolution) Resolution {
	w, h := res.Width, res.Height
	switch {
	case w > 0 && h > 0:
		return res
	case w > 0:
		h = f.Height() * w / f.Width()
	case h > 0:
		w = f.Width() * h / f.Height()
	default:
		return f.Resolution()
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return Resolution{Width: w, Height: h}
}
