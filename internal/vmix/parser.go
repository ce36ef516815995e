package vmix

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNotVMix is returned when a poll response is not a vMix API document.
var ErrNotVMix = errors.New("vmix: response has no <vmix> root")

// snapshot is the subset of the vMix API document the aggregator cares
// about.
type snapshot struct {
	Recording        bool
	Streaming        bool
	DurationMs       int64
	ActiveInputTitle string
	ActiveInputState string
}

// The vMix API document is extracted with regular expressions rather
// than a full XML decoder: vMix emits attribute quoting and entity
// quirks across versions, and only these five fields matter.
var (
	rootRe      = regexp.MustCompile(`(?i)<vmix[\s>]`)
	recordingRe = regexp.MustCompile(`(?is)<recording>\s*(true|false)\s*</recording>`)
	streamingRe = regexp.MustCompile(`(?is)<streaming>\s*(true|false)\s*</streaming>`)
	durationRe  = regexp.MustCompile(`(?is)<duration>\s*(\d+)\s*</duration>`)
	inputRe     = regexp.MustCompile(`(?is)<input\b[^>]*>`)
	stateAttrRe = regexp.MustCompile(`(?i)\bstate\s*=\s*"([^"]*)"`)
	titleAttrRe = regexp.MustCompile(`(?i)\btitle\s*=\s*"([^"]*)"`)
)

// parseAPI extracts a snapshot from a vMix /api response body.
func parseAPI(body string) (*snapshot, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("vmix: empty response body")
	}
	if !rootRe.MatchString(body) {
		return nil, ErrNotVMix
	}

	snap := &snapshot{}
	if m := recordingRe.FindStringSubmatch(body); m != nil {
		snap.Recording = strings.EqualFold(m[1], "true")
	}
	if m := streamingRe.FindStringSubmatch(body); m != nil {
		snap.Streaming = strings.EqualFold(m[1], "true")
	}
	if m := durationRe.FindStringSubmatch(body); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			snap.DurationMs = ms
		}
	}

	// The first input that is Running or Paused is the active one.
	for _, tag := range inputRe.FindAllString(body, -1) {
		m := stateAttrRe.FindStringSubmatch(tag)
		if m == nil {
			continue
		}
		state := m[1]
		if !strings.EqualFold(state, "Running") && !strings.EqualFold(state, "Paused") {
			continue
		}
		snap.ActiveInputState = state
		if t := titleAttrRe.FindStringSubmatch(tag); t != nil {
			snap.ActiveInputTitle = t[1]
		}
		break
	}
	return snap, nil
}
