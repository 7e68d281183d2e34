package labeler

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"math/bits"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/image/font/gofont/goregular"

	"go.viam.com/simlabel/data"
	"go.viam.com/simlabel/spatialmath"
)

// outline is a detected object's final footprint, kept for debug dumps.
type outline struct {
	id       int
	class    string
	polygons []orb.Polygon
	area     float64
	area0    float64
}

const labelFontSize = 12

// labelFont is parsed once; faces are cheap to make per overlay.
var labelFont = func() *truetype.Font {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
	return f
}()

// classColor gives every class a stable, distinct hue.
func classColor(class string) colorful.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(class))
	return colorful.Hsv(float64(h.Sum32()%360), 0.85, 0.95)
}

// outlinesGeoJSON encodes footprints as a feature collection in pixel (or range image)
// coordinates.
func outlinesGeoJSON(outlines []outline) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, o := range outlines {
		f := geojson.NewFeature(orb.MultiPolygon(o.polygons))
		f.Properties["id"] = o.id
		f.Properties["class"] = o.class
		f.Properties["area"] = o.area
		f.Properties["area0"] = o.area0
		f.Properties["color"] = classColor(o.class).Hex()
		fc.Append(f)
	}
	return fc.MarshalJSON()
}

// overlayPNG draws the outlines over the decoded frame.
func overlayPNG(payload []byte, outlines []outline) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: labelFontSize}))
	for _, o := range outlines {
		dc.SetColor(classColor(o.class))
		for _, poly := range o.polygons {
			if len(poly) == 0 || len(poly[0]) == 0 {
				continue
			}
			ring := poly[0]
			dc.MoveTo(ring[0][0], ring[0][1])
			for _, pt := range ring[1:] {
				dc.LineTo(pt[0], pt[1])
			}
			dc.ClosePath()
			dc.Stroke()
		}
		if b := orb.MultiPolygon(o.polygons).Bound(); !b.IsEmpty() {
			dc.DrawString(fmt.Sprintf("%s %d", o.class, o.id), b.Min.X(), b.Min.Y()-2)
		}
	}
	var out bytes.Buffer
	if err := dc.EncodePNG(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// cuboidOBJ writes the edges of every cuboid as a Wavefront OBJ line mesh in the lidar frame.
func cuboidOBJ(cuboids []cuboid) []byte {
	var out bytes.Buffer
	base := 1
	for _, c := range cuboids {
		fmt.Fprintf(&out, "o cuboid_%d\n", c.id)
		verts := spatialmath.TransformPoints(spatialmath.BoxVertices(r3.Vector{}, c.dims), c.pose)
		for _, v := range verts {
			fmt.Fprintf(&out, "v %.4f %.4f %.4f\n", v.X, v.Y, v.Z)
		}
		// Corners joined by an edge differ in exactly one axis sign.
		for i := range verts {
			for j := i + 1; j < len(verts); j++ {
				if bits.OnesCount(uint(i^j)) == 1 {
					fmt.Fprintf(&out, "l %d %d\n", base+i, base+j)
				}
			}
		}
		base += len(verts)
	}
	return out.Bytes()
}

func (l *Labeler) saveDebug(ctx context.Context, path string, buf []byte, err error) {
	if err != nil {
		l.logger.Warnw("debug dump failed", "path", path, "error", err)
		return
	}
	if err := l.save(ctx, path, buf); err != nil {
		l.logger.Warnw("debug dump not saved", "path", path, "error", err)
	}
}

func (l *Labeler) saveImageDebug(ctx context.Context, p paths, frame *data.RawFrame, outlines []outline) {
	buf, err := outlinesGeoJSON(outlines)
	l.saveDebug(ctx, p.debugStem+".geojson", buf, err)
	buf, err = overlayPNG(frame.Buffer, outlines)
	l.saveDebug(ctx, p.debugStem+".png", buf, err)
}

func (l *Labeler) saveSweepDebug(ctx context.Context, p paths, outlines []outline, cuboids []cuboid) {
	buf, err := outlinesGeoJSON(outlines)
	l.saveDebug(ctx, p.debugStem+".geojson", buf, err)
	l.saveDebug(ctx, p.debugStem+".obj", cuboidOBJ(cuboids), nil)
}
