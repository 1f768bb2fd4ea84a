package stream

import (
	"math"
	"strings"
)

// CaptureLogProbAccumulator collects per-token (text, log-prob) segments as
// they stream in, so a capture's total log-prob can be recovered afterwards
// when token boundaries line up exactly with the capture text.
type CaptureLogProbAccumulator struct {
	segments []logProbSegment
}

type logProbSegment struct {
	text    string
	logProb *float64
}

// Add appends one token segment. Empty text carries no information and is
// dropped.
func (a *CaptureLogProbAccumulator) Add(text string, logProb *float64) {
	if text == "" {
		return
	}
	a.segments = append(a.segments, logProbSegment{text: text, logProb: logProb})
}

// LogProbForText walks the recorded segments against text with a cursor.
// Each segment must continue the text exactly at the cursor and carry a
// log-prob, and the cursor must land exactly on the end of text; otherwise
// the answer is nil. Segments past the end of text are ignored. The empty
// text has log-prob zero by definition.
func (a *CaptureLogProbAccumulator) LogProbForText(text string) *float64 {
	if text == "" {
		zero := 0.0
		return &zero
	}
	if len(a.segments) == 0 {
		return nil
	}
	total := 0.0
	cursor := 0
	for _, seg := range a.segments {
		if cursor >= len(text) {
			break
		}
		if !strings.HasPrefix(text[cursor:], seg.text) {
			return nil
		}
		cursor += len(seg.text)
		if seg.logProb == nil {
			return nil
		}
		total += *seg.logProb
	}
	if cursor != len(text) {
		return nil
	}
	return &total
}

// ProbabilityFromLogProb converts a log-probability to a probability. A nil
// or non-finite input maps to NaN rather than a misleading number.
func ProbabilityFromLogProb(logProb *float64) float64 {
	if logProb == nil || math.IsNaN(*logProb) || math.IsInf(*logProb, 0) {
		return math.NaN()
	}
	p := math.Exp(*logProb)
	if math.IsInf(p, 0) {
		return math.NaN()
	}
	return p
}

// LogProbFromProbability converts a probability back to a log-probability,
// or nil for anything outside (0, +inf).
func LogProbFromProbability(p float64) *float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return nil
	}
	lp := math.Log(p)
	return &lp
}
