package gaze

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

const maxFrameLine = 1 << 20

// Replay reads detector frames as JSON lines from r, classifies each one and
// hands the status to the reporter. It returns the number of frames processed
// once r is exhausted, after every push has completed.
func Replay(ctx context.Context, r io.Reader, c *Classifier, rep *Reporter) (int, error) {
	defer rep.Wait()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameLine)

	n := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return n, fmt.Errorf("frame %d: %w", n+1, err)
		}
		rep.Report(ctx, c.Observe(f))
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read frames: %w", err)
	}
	return n, nil
}
