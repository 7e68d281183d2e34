// Package pointcloud converts lidar sweeps between the simulator's flat point records and PCD
// files.
package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/simlabel/data"
)

// RecordSize is the byte size of one point: x, y, z, intensity as float32 and the label as
// uint32, little-endian.
const RecordSize = 20

const pcdHeaderFormat = "# .PCD v.7 - Point Cloud Data file format\n" +
	"VERSION 0.7\n" +
	"FIELDS x y z intensity label\n" +
	"SIZE 4 4 4 4 4\n" +
	"TYPE F F F F I\n" +
	"COUNT 1 1 1 1 1\n" +
	"WIDTH %d\n" +
	"HEIGHT 1\n" +
	"VIEWPOINT 0 0 0 1 -1 0 0\n" +
	"POINTS %d\n" +
	"DATA binary\n"

// ErrMalformedBuffer is returned when a flat buffer does not hold the declared number of records.
var ErrMalformedBuffer = errors.New("malformed lidar buffer")

// DecodeRecords decodes count flat records from buf.
func DecodeRecords(buf []byte, count int) ([]data.LidarPoint, error) {
	if count < 0 || len(buf) != count*RecordSize {
		return nil, errors.Wrapf(ErrMalformedBuffer, "%d bytes for %d points", len(buf), count)
	}
	pts := make([]data.LidarPoint, count)
	for i := range pts {
		rec := buf[i*RecordSize : (i+1)*RecordSize]
		pts[i] = data.LidarPoint{
			X:         math.Float32frombits(binary.LittleEndian.Uint32(rec)),
			Y:         math.Float32frombits(binary.LittleEndian.Uint32(rec[4:])),
			Z:         math.Float32frombits(binary.LittleEndian.Uint32(rec[8:])),
			Intensity: math.Float32frombits(binary.LittleEndian.Uint32(rec[12:])),
			Label:     binary.LittleEndian.Uint32(rec[16:]),
		}
	}
	return pts, nil
}

// EncodeRecords encodes points as flat records.
func EncodeRecords(pts []data.LidarPoint) []byte {
	buf := make([]byte, len(pts)*RecordSize)
	for i, p := range pts {
		rec := buf[i*RecordSize:]
		binary.LittleEndian.PutUint32(rec, math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(rec[4:], math.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(rec[8:], math.Float32bits(p.Z))
		binary.LittleEndian.PutUint32(rec[12:], math.Float32bits(p.Intensity))
		binary.LittleEndian.PutUint32(rec[16:], p.Label)
	}
	return buf
}

// DecodeSweep returns the points of a sweep, preferring the decoded list when present.
func DecodeSweep(sweep *data.LidarSweep) ([]data.LidarPoint, error) {
	if len(sweep.Points) > 0 {
		return sweep.Points, nil
	}
	count := sweep.Count
	if count == 0 && len(sweep.Buffer) > 0 {
		count = len(sweep.Buffer) / RecordSize
	}
	return DecodeRecords(sweep.Buffer, count)
}

// ToPCD writes points as a binary PCD file.
func ToPCD(pts []data.LidarPoint, out io.Writer) error {
	if _, err := fmt.Fprintf(out, pcdHeaderFormat, len(pts), len(pts)); err != nil {
		return err
	}
	_, err := out.Write(EncodeRecords(pts))
	return err
}

// MarshalPCD returns the PCD encoding of points.
func MarshalPCD(pts []data.LidarPoint) []byte {
	var buf bytes.Buffer
	buf.Grow(len(pcdHeaderFormat) + len(pts)*RecordSize + 16)
	// Writes to a bytes.Buffer do not fail.
	goutils.UncheckedError(ToPCD(pts, &buf))
	return buf.Bytes()
}

type pcdHeader struct {
	fields string
	size   []int
	width  int
	height int
	points int
	data   string
}

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parseInts(tokens []string, name string) ([]int, error) {
	out := make([]int, len(tokens))
	for i, token := range tokens {
		v, err := strconv.Atoi(token)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s field %q", name, token)
		}
		out[i] = v
	}
	return out, nil
}

func parseCount(value, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.Errorf("%s must not be negative", name)
	}
	return v, nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}
	tokens := strings.Fields(value)

	var err error
	switch name {
	case "VERSION":
		if value != "0.7" && value != ".7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if value != "x y z intensity label" {
			return errors.Errorf("unsupported pcd fields %s", value)
		}
		header.fields = value
	case "SIZE":
		if header.size, err = parseInts(tokens, name); err != nil {
			return err
		}
		for _, s := range header.size {
			if s != 4 {
				return errors.Errorf("unsupported pcd field size %d", s)
			}
		}
	case "TYPE", "COUNT", "VIEWPOINT":
	case "WIDTH":
		header.width, err = parseCount(value, name)
	case "HEIGHT":
		header.height, err = parseCount(value, name)
	case "POINTS":
		if header.points, err = parseCount(value, name); err == nil && header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		if value != "binary" {
			return errors.Errorf("unsupported pcd data type %s", value)
		}
		header.data = value
	}
	if err != nil {
		return errors.Wrapf(err, "invalid %s field %q", name, value)
	}
	return nil
}

// ReadPCD reads a binary PCD file written by ToPCD.
func ReadPCD(inRaw io.Reader) ([]data.LidarPoint, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	for index := 0; index < len(pcdHeaderFields); {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "reading header line %d", index)
		}
		line, _, _ = strings.Cut(line, "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, index, &header); err != nil {
			return nil, err
		}
		index++
	}
	buf := make([]byte, header.points*RecordSize)
	if _, err := io.ReadFull(in, buf); err != nil {
		return nil, errors.Wrap(err, "reading pcd points")
	}
	return DecodeRecords(buf, header.points)
}
