package ffmpeg

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"regexp"
	"strconv"
)

// timePattern matches the encoded media position in ffmpeg's stats line,
// e.g. "frame=  240 fps= 60 q=28.0 size=512kB time=00:00:08.00 bitrate=...".
var timePattern = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ProgressEvent is one percent-complete observation of a running transcode.
type ProgressEvent struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	TotalSeconds   float64 `json:"total_seconds"`
	Percent        float64 `json:"percent"` // 0-100, non-decreasing per transcode
}

// ParseElapsed extracts the time=HH:MM:SS(.frac) marker from a line, in seconds.
func ParseElapsed(line string) (float64, bool) {
	m := timePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return hours*3600 + minutes*60 + seconds, true
}

// ProgressParser turns stats lines of a single transcode into ProgressEvents.
// Use a fresh parser per invocation.
type ProgressParser struct {
	total float64
	last  float64
}

// NewProgressParser creates a parser for media of the given total duration.
// A total of 0 (unknown) makes the parser emit nothing.
func NewProgressParser(totalSeconds float64) *ProgressParser {
	return &ProgressParser{total: totalSeconds}
}

// ParseLine returns an event if the line carries a position and the total is known.
func (p *ProgressParser) ParseLine(line string) (ProgressEvent, bool) {
	if p.total <= 0 {
		return ProgressEvent{}, false
	}
	elapsed, ok := ParseElapsed(line)
	if !ok {
		return ProgressEvent{}, false
	}

	percent := elapsed / p.total * 100
	if percent > 100 {
		percent = 100
	}
	if percent < p.last {
		percent = p.last
	}
	p.last = percent

	return ProgressEvent{
		ElapsedSeconds: elapsed,
		TotalSeconds:   p.total,
		Percent:        percent,
	}, true
}

// ProgressEvents lazily scans r and yields one event per matching line.
// The sequence ends when r is exhausted; ranging over it again restarts
// parsing state but not the reader.
func ProgressEvents(r io.Reader, totalSeconds float64) iter.Seq[ProgressEvent] {
	return func(yield func(ProgressEvent) bool) {
		parser := NewProgressParser(totalSeconds)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(scanStatLines)

		for scanner.Scan() {
			ev, ok := parser.ParseLine(scanner.Text())
			if !ok {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// scanStatLines is bufio.ScanLines that also breaks on '\r'; ffmpeg redraws
// its stats line with carriage returns.
func scanStatLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
