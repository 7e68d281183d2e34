package sensor

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/utils"
)

// Lidar defaults applied to unset attributes.
const (
	defaultLidarRange            = 120.0
	defaultHorizontalResolution  = 0.2
	verticalBucketDeg            = 0.01
	errLidarNotInitializedFormat = "lidar %d used before Init"
)

// LidarAttributes configure a spinning lidar. Angles are in degrees. Horizontal angles grow to the
// right of the forward axis.
type LidarAttributes struct {
	LeftFOV              float64   `json:"left_fov"`
	RightFOV             float64   `json:"right_fov"`
	DownFOV              float64   `json:"down_fov"`
	UpFOV                float64   `json:"up_fov"`
	Range                float64   `json:"range"`
	HorizontalResolution float64   `json:"horizontal_resolution"`
	RayNum               int       `json:"ray_num"`
	RayAngles            []float64 `json:"ray_angles"`
}

// Lidar is the spherical model of a spinning lidar with a fixed ray table.
type Lidar struct {
	id          int
	description string
	attrs       LidarAttributes

	rays   []float64
	verMap []int
	width  int
}

// NewLidar creates a lidar model. Init must succeed before the model is used.
func NewLidar(id int, description string, attrs LidarAttributes) *Lidar {
	if attrs.Range <= 0 {
		attrs.Range = defaultLidarRange
	}
	if attrs.HorizontalResolution <= 0 {
		attrs.HorizontalResolution = defaultHorizontalResolution
	}
	return &Lidar{id: id, description: description, attrs: attrs}
}

// Init validates the attributes and builds the ray table and the vertical angle map.
func (l *Lidar) Init() error {
	a := l.attrs
	if a.RayNum < 1 {
		return errors.Errorf("lidar %d: ray_num must be at least 1, got %d", l.id, a.RayNum)
	}
	if a.LeftFOV > a.RightFOV {
		return errors.Errorf("lidar %d: left_fov %v is right of right_fov %v", l.id, a.LeftFOV, a.RightFOV)
	}
	if a.DownFOV > a.UpFOV {
		return errors.Errorf("lidar %d: down_fov %v is above up_fov %v", l.id, a.DownFOV, a.UpFOV)
	}
	if len(a.RayAngles) != 0 && len(a.RayAngles) != a.RayNum {
		return errors.Errorf("lidar %d: %d ray angles for %d rays", l.id, len(a.RayAngles), a.RayNum)
	}

	rays := make([]float64, a.RayNum)
	switch {
	case len(a.RayAngles) != 0:
		copy(rays, a.RayAngles)
		sort.Float64s(rays)
	case a.RayNum == 1:
		rays[0] = (a.DownFOV + a.UpFOV) / 2
	default:
		step := (a.UpFOV - a.DownFOV) / float64(a.RayNum-1)
		for i := range rays {
			rays[i] = a.DownFOV + step*float64(i)
		}
	}

	buckets := int(math.Round((a.UpFOV-a.DownFOV)/verticalBucketDeg)) + 1
	verMap := make([]int, buckets)
	for i := range verMap {
		verMap[i] = nearestRay(rays, a.DownFOV+float64(i)*verticalBucketDeg)
	}

	l.rays = rays
	l.verMap = verMap
	l.width = int(math.Ceil((a.RightFOV - a.LeftFOV) / a.HorizontalResolution))
	if l.width < 1 {
		l.width = 1
	}
	return nil
}

func nearestRay(rays []float64, angle float64) int {
	idx := sort.SearchFloat64s(rays, angle)
	switch {
	case idx == 0:
		return 0
	case idx == len(rays):
		return len(rays) - 1
	case angle-rays[idx-1] <= rays[idx]-angle:
		return idx - 1
	default:
		return idx
	}
}

// ID returns the sensor id.
func (l *Lidar) ID() int {
	return l.id
}

// Kind returns data.SensorLidar.
func (l *Lidar) Kind() data.SensorKind {
	return data.SensorLidar
}

// Description returns the configured description.
func (l *Lidar) Description() string {
	return l.description
}

// Rays returns the vertical angle of every ray, lowest first.
func (l *Lidar) Rays() []float64 {
	return l.rays
}

// Bounds is columns by rays.
func (l *Lidar) Bounds() orb.Bound {
	return orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{float64(l.width), float64(len(l.rays))}}
}

// Angles returns the horizontal and vertical angle of a point in degrees.
func Angles(body r3.Vector) (float64, float64) {
	h := utils.RadToDeg(-math.Atan2(body.Y, body.X))
	v := utils.RadToDeg(math.Atan2(body.Z, math.Hypot(body.X, body.Y)))
	return h, v
}

// InFOV reports whether the point is inside the angular window and closer than the range.
func (l *Lidar) InFOV(body r3.Vector) bool {
	h, v := Angles(body)
	a := l.attrs
	return h >= a.LeftFOV && h <= a.RightFOV &&
		v >= a.DownFOV && v <= a.UpFOV &&
		body.Norm() < a.Range
}

// Ray returns the index of the ray a vertical angle quantizes to. Angles outside the vertical
// window map to the nearest end.
func (l *Lidar) Ray(vertical float64) int {
	if l.verMap == nil {
		panic(errors.Errorf(errLidarNotInitializedFormat, l.id))
	}
	idx := int(math.Round((vertical - l.attrs.DownFOV) / verticalBucketDeg))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(l.verMap) {
		idx = len(l.verMap) - 1
	}
	return l.verMap[idx]
}

// ToPixel returns the range image cell (column, ray) of a point.
func (l *Lidar) ToPixel(body r3.Vector) (r2.Point, bool) {
	if !l.InFOV(body) {
		return r2.Point{X: -1, Y: -1}, false
	}
	h, v := Angles(body)
	col := (h - l.attrs.LeftFOV) / l.attrs.HorizontalResolution
	return r2.Point{X: col, Y: float64(l.Ray(v))}, true
}
