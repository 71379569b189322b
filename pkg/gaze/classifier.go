package gaze

const (
	DefaultThreshold    = 0.23
	DefaultConsecFrames = 3

	ReasonEyesClosed = "Eyes Closed"
	ReasonNoFace     = "No Face Detected"
)

// Frame is one video frame's detector output. Landmarks is empty when no face was found.
type Frame struct {
	Landmarks []Point `json:"landmarks"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Status is the focus judgment for one frame. Reason is empty while focused.
type Status struct {
	Focused bool   `json:"focused"`
	Reason  string `json:"reason"`
}

// Classifier counts consecutive low-EAR frames and reports the eyes closed once
// the count reaches ConsecFrames. It is not safe for concurrent use.
type Classifier struct {
	Threshold    float64
	ConsecFrames int

	low int
}

func NewClassifier() *Classifier {
	return &Classifier{Threshold: DefaultThreshold, ConsecFrames: DefaultConsecFrames}
}

// Observe classifies one frame.
func (c *Classifier) Observe(f Frame) Status {
	if len(f.Landmarks) == 0 {
		return c.NoFace()
	}
	ear, ok := AverageEAR(f.Landmarks, f.Width, f.Height)
	return c.ObserveEAR(ear, ok)
}

// ObserveEAR classifies a frame whose face was found. ok is false when the EAR
// could not be computed, which resets the counter.
func (c *Classifier) ObserveEAR(ear float64, ok bool) Status {
	if !ok {
		c.low = 0
		return Status{Focused: true}
	}
	if ear < c.Threshold {
		c.low++
	} else {
		c.low = 0
	}
	if c.low >= c.ConsecFrames {
		return Status{Focused: false, Reason: ReasonEyesClosed}
	}
	return Status{Focused: true}
}

// NoFace records a frame without a face.
func (c *Classifier) NoFace() Status {
	c.low = 0
	return Status{Focused: false, Reason: ReasonNoFace}
}
