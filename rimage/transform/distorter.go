// Package transform holds camera intrinsics and the lens distortion models used to project
// camera-frame points onto the image plane.
package transform

import (
	"math"

	"github.com/pkg/errors"
)

// DistortionType is the name of the distortion model.
type DistortionType string

// Supported lens models.
const (
	BrownConradyDistortionType  = DistortionType("brown_conrady")
	KannalaBrandtDistortionType = DistortionType("kannala_brandt")
)

// Distorter maps undistorted normalized image coordinates (x/z, y/z) to distorted ones.
type Distorter interface {
	ModelType() DistortionType
	Transform(x, y float64) (float64, float64)
}

// NewDistorter builds a model from its coefficients in the order the model documents.
func NewDistorter(dt DistortionType, coeffs []float64) (Distorter, error) {
	switch dt {
	case BrownConradyDistortionType:
		c, err := coefficients(dt, coeffs, 5)
		if err != nil {
			return nil, err
		}
		return &BrownConrady{RadialK1: c[0], RadialK2: c[1], RadialK3: c[2], TangentialP1: c[3], TangentialP2: c[4]}, nil
	case KannalaBrandtDistortionType:
		c, err := coefficients(dt, coeffs, 4)
		if err != nil {
			return nil, err
		}
		return &KannalaBrandt{K1: c[0], K2: c[1], K3: c[2], K4: c[3]}, nil
	default:
		return nil, errors.Errorf("unknown distortion model %q", dt)
	}
}

// coefficients validates and zero pads up to n coefficients.
func coefficients(dt DistortionType, in []float64, n int) ([]float64, error) {
	if len(in) > n {
		return nil, errors.Errorf("%s takes at most %d distortion parameters, got %d", dt, n, len(in))
	}
	out := make([]float64, n)
	for i, v := range in {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("%s distortion parameter %d is %v", dt, i, v)
		}
		out[i] = v
	}
	return out, nil
}
