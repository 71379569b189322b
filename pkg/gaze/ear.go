// Package gaze judges focus from facial landmarks using the eye aspect ratio.
package gaze

import "math"

// openEAR is reported for an eye whose corners coincide, which would otherwise divide by zero.
const openEAR = 0.3

// Point is a landmark position. Landmarks from the detector are normalized to [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Eye holds six ordered landmarks: outer corner, two upper-lid points,
// inner corner, two lower-lid points.
type Eye [6]Point

// Landmark indices of each eye in the 468-point face mesh.
var (
	LeftEyeIndices  = [6]int{362, 382, 381, 380, 374, 373}
	RightEyeIndices = [6]int{33, 7, 163, 144, 145, 153}
)

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2 |p1-p4|).
func EyeAspectRatio(e Eye) float64 {
	a := dist(e[1], e[5])
	b := dist(e[2], e[4])
	c := dist(e[0], e[3])
	if c == 0 || math.IsNaN(c) {
		return openEAR
	}
	return (a + b) / (2 * c)
}

// EyeFromLandmarks picks one eye out of a face mesh and scales it to pixels.
// It reports false when any index is out of range.
func EyeFromLandmarks(landmarks []Point, idx [6]int, width, height float64) (Eye, bool) {
	var e Eye
	for i, j := range idx {
		if j < 0 || j >= len(landmarks) {
			return Eye{}, false
		}
		e[i] = Point{X: landmarks[j].X * width, Y: landmarks[j].Y * height}
	}
	return e, true
}

// AverageEAR averages both eyes of a face mesh. It reports false when either
// eye can not be resolved.
func AverageEAR(landmarks []Point, width, height float64) (float64, bool) {
	left, ok := EyeFromLandmarks(landmarks, LeftEyeIndices, width, height)
	if !ok {
		return 0, false
	}
	right, ok := EyeFromLandmarks(landmarks, RightEyeIndices, width, height)
	if !ok {
		return 0, false
	}
	l, r := EyeAspectRatio(left), EyeAspectRatio(right)
	if math.IsNaN(l) || math.IsNaN(r) {
		return 0, false
	}
	return (l + r) / 2, true
}
