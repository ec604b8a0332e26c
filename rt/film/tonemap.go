package film

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
)

// Narkowicz's rational fit of the ACES filmic curve, applied per channel.
const (
	acesA = 2.51
	acesB = 0.03
	acesC = 2.43
	acesD = 0.59
	acesE = 0.14
)

const invGamma = 1.0 / 2.2

// acesFilm maps one linear channel into [0, 1]. Math runs in float64 so the
// ratio stays stable for large inputs.
func acesFilm(x float32) float32 {
	if x <= 0 {
		return 0
	}
	v := float64(x)
	den := v*(acesC*v+acesD) + acesE
	if den <= 0 {
		return 0
	}
	y := v * (acesA*v + acesB) / den
	if y < 0 {
		y = 0
	} else if y > 1 {
		y = 1
	}
	return float32(y)
}

// Tonemap converts linear radiance to display space: exposure scale, the
// ACES curve, then gamma 2.2. Every output channel lands in [0, 1].
func Tonemap(c mgl32.Vec3, exposure float32) mgl32.Vec3 {
	if exposure <= 0 {
		exposure = 1
	}
	c = core.SanitizeColor(c.Mul(exposure))
	var out mgl32.Vec3
	for i := 0; i < 3; i++ {
		out[i] = float32(math.Pow(float64(acesFilm(c[i])), invGamma))
	}
	return out
}

// CompositeLDR tonemaps src into dst as tightly packed RGBA8 with opaque
// alpha. dst must hold four bytes per source pixel.
func CompositeLDR(src []mgl32.Vec3, dst []byte, exposure float32) error {
	if len(dst) < len(src)*4 {
		return fmt.Errorf("film: LDR target holds %d bytes, need %d", len(dst), len(src)*4)
	}
	for i, c := range src {
		t := Tonemap(c, exposure)
		o := i * 4
		dst[o+0] = uint8(t.X()*255 + 0.5)
		dst[o+1] = uint8(t.Y()*255 + 0.5)
		dst[o+2] = uint8(t.Z()*255 + 0.5)
		dst[o+3] = 255
	}
	return nil
}
