package labeler

import "encoding/json"

// maskValues is the pixel value of every class in semantic camera images.
var maskValues = map[string]int{
	"unlabeled":     0,
	"road":          1,
	"sidewalk":      2,
	"lane_marking":  3,
	"building":      4,
	"fence":         5,
	"pole":          6,
	"traffic_light": 7,
	"traffic_sign":  8,
	"vegetation":    9,
	"terrain":       10,
	"sky":           11,
	"pedestrian":    12,
	"cyclist":       13,
	"car":           14,
	"truck":         15,
	"bus":           16,
	"motorcycle":    17,
	"bicycle":       18,
	"static":        19,
	"ego":           20,
}

// MaskValue returns the semantic pixel value of a class.
func MaskValue(class string) (int, bool) {
	v, ok := maskValues[class]
	return v, ok
}

func maskJSON() ([]byte, error) {
	return json.MarshalIndent(maskValues, "", "  ")
}
