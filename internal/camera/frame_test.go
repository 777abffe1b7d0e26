package camera

import (
	"image"
	"image/color"
	"testing"
)

func TestNewFrame_NormalizesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 14, 12))
	src.Set(10, 10, color.RGBA{R: 255, A: 255})

	frame := NewFrame(src)

	if frame.Image.Rect.Min != (image.Point{}) {
		t.Errorf("Expected origin (0,0), got %v", frame.Image.Rect.Min)
	}
	if frame.Resolution() != (Resolution{Width: 4, Height: 2}) {
		t.Errorf("Expected 4x2, got %s", frame.Resolution())
	}
	if frame.Image.Pix[0] != 255 {
		t.Errorf("Expected top-left red channel 255, got %d", frame.Image.Pix[0])
	}

	// 元画像を書き換えてもフレームには影響しない
	src.Set(10, 10, color.RGBA{B: 255, A: 255})
	if frame.Image.Pix[0] != 255 {
		t.Error("Expected frame to own a copy of the pixels")
	}
	if frame.CapturedAt.IsZero() {
		t.Error("Expected capture time to be set")
	}
}

func TestFrame_Equal(t *testing.T) {
	red := NewSolidFrame(2, 2, color.RGBA{R: 255, A: 255})
	red2 := NewSolidFrame(2, 2, color.RGBA{R: 255, A: 255})
	blue := NewSolidFrame(2, 2, color.RGBA{B: 255, A: 255})
	wide := NewSolidFrame(4, 1, color.RGBA{R: 255, A: 255})
	red2.Seq = 99

	tests := []struct {
		name string
		a, b *Frame
		want bool
	}{
		{"同じ内容", red, red2, true},
		{"異なる色", red, blue, false},
		{"異なる形状", red, wide, false},
		{"片方がnil", red, nil, false},
		{"両方nil", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFrame_Rotate180(t *testing.T) {
	frame := NewSolidFrame(3, 2, color.RGBA{A: 255})
	// 左上を赤、右下を青にする
	copy(frame.Image.Pix[0:4], []byte{255, 0, 0, 255})
	last := len(frame.Image.Pix) - 4
	copy(frame.Image.Pix[last:], []byte{0, 0, 255, 255})

	rotated := frame.Rotate180()

	if rotated.Image.Pix[2] != 255 {
		t.Errorf("Expected blue at top-left, got %v", rotated.Image.Pix[0:4])
	}
	if rotated.Image.Pix[last] != 255 {
		t.Errorf("Expected red at bottom-right, got %v", rotated.Image.Pix[last:])
	}
	if frame.Image.Pix[0] != 255 {
		t.Error("Expected original frame to be unchanged")
	}
	if !rotated.Rotate180().Equal(frame) {
		t.Error("Expected double rotation to restore the frame")
	}
}

func TestFrame_Resize(t *testing.T) {
	frame := NewSolidFrame(64, 48, color.RGBA{G: 200, A: 255})

	tests := []struct {
		name string
		res  Resolution
		want Resolution
	}{
		{"両辺指定", Resolution{Width: 32, Height: 32}, Resolution{Width: 32, Height: 32}},
		{"幅のみ", Resolution{Width: 16}, Resolution{Width: 16, Height: 12}},
		{"高さのみ", Resolution{Height: 24}, Resolution{Width: 32, Height: 24}},
		{"指定なし", Resolution{}, Resolution{Width: 64, Height: 48}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := frame.Resize(tt.res)
			if got.Resolution() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.Resolution())
			}
			if g := got.Image.Pix[1]; g < 199 || g > 201 {
				t.Errorf("Expected green channel around 200, got %d", g)
			}
		})
	}

	if frame.Resize(Resolution{Width: 64, Height: 48}) != frame {
		t.Error("Expected same-size resize to return the frame unchanged")
	}
}
