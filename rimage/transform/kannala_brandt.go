package transform

import "math"

// KannalaBrandt is the equidistant fisheye model. With r the distance from the optical axis on
// the normalized plane and θ = atan(r):
//
//	θd = θ(1 + k1 θ² + k2 θ⁴ + k3 θ⁶ + k4 θ⁸)
//
// and the point is rescaled by θd/r.
type KannalaBrandt struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
	K4 float64 `json:"k4"`
}

// ModelType returns the type of distortion model.
func (kb *KannalaBrandt) ModelType() DistortionType {
	return KannalaBrandtDistortionType
}

// Transform distorts normalized coordinates. The optical axis maps to itself.
func (kb *KannalaBrandt) Transform(x, y float64) (float64, float64) {
	r := math.Hypot(x, y)
	if r < 1e-12 {
		return x, y
	}
	theta := math.Atan(r)
	t2 := theta * theta
	thetaD := theta * (1 + kb.K1*t2 + kb.K2*t2*t2 + kb.K3*t2*t2*t2 + kb.K4*t2*t2*t2*t2)
	scale := thetaD / r
	return x * scale, y * scale
}
