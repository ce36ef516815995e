// Package timecode converts frame counts and millisecond positions into
// SMPTE timecode strings, including drop-frame handling for 29.97 and
// 59.94 fps material.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Rates within this distance of 29.97 or 59.94 are treated as drop-frame.
const dropFrameTolerance = 0.01

// RequiresDropFrame reports whether fps denotes drop-frame material.
func RequiresDropFrame(fps float64) bool {
	return math.Abs(fps-29.97) < dropFrameTolerance || math.Abs(fps-59.94) < dropFrameTolerance
}

// FromFrames converts an absolute frame count to HH:MM:SS:FF. Drop-frame
// rates are rendered with a semicolon before the frame field. Negative
// counts clamp to zero.
func FromFrames(totalFrames int64, fps float64) string {
	if totalFrames < 0 {
		totalFrames = 0
	}
	if RequiresDropFrame(fps) {
		return fromFramesDrop(totalFrames, fps)
	}
	return fromFramesNonDrop(totalFrames, fps)
}

// FromMilliseconds converts a playhead position in milliseconds to a
// non-drop timecode string. Positions are floored to whole frames; this
// is the vMix duration path, which never uses drop-frame numbering.
func FromMilliseconds(ms int64, fps float64) string {
	if ms < 0 {
		ms = 0
	}
	totalFrames := int64(math.Floor(float64(ms) * fps / 1000))
	return fromFramesNonDrop(totalFrames, fps)
}

func fromFramesNonDrop(totalFrames int64, fps float64) string {
	nominal := nominalRate(fps)
	ff := totalFrames % nominal
	totalSeconds := totalFrames / nominal
	return format(totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, ff, ":")
}

func fromFramesDrop(totalFrames int64, fps float64) string {
	nominal := nominalRate(fps)
	adjusted := totalFrames + skippedFrames(totalFrames, nominal, fps)
	ff := adjusted % nominal
	totalSeconds := adjusted / nominal
	return format(totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, ff, ";")
}

// skippedFrames returns how many frame labels are dropped up to
// totalFrames. Two labels per minute are skipped at 29.97 (four at
// 59.94) except on every tenth minute, which keeps all of its labels.
func skippedFrames(totalFrames, nominal int64, fps float64) int64 {
	drop := dropPerMinute(fps)
	perMinute := nominal*60 - drop
	perTenMinutes := nominal*600 - 9*drop
	blocks := totalFrames / perTenMinutes
	rem := totalFrames % perTenMinutes

	skipped := 9 * drop * blocks
	if rem >= nominal*60 {
		skipped += drop * (1 + (rem-nominal*60)/perMinute)
	}
	return skipped
}

func dropPerMinute(fps float64) int64 {
	if fps > 30 {
		return 4
	}
	return 2
}

func nominalRate(fps float64) int64 {
	nominal := int64(math.Round(fps))
	if nominal < 1 {
		nominal = 1
	}
	return nominal
}

func format(hh, mm, ss, ff int64, sep string) string {
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", hh, mm, ss, sep, ff)
}

// ToFrames parses a timecode string back to an absolute frame count.
// Both ':' and ';' are accepted before the frame field; drop-frame
// arithmetic is applied whenever fps is a drop-frame rate.
func ToFrames(tc string, fps float64) (int64, error) {
	nominal := int64(math.Round(fps))
	if nominal < 1 {
		return 0, fmt.Errorf("timecode: invalid fps %v", fps)
	}

	parts := strings.Split(strings.ReplaceAll(tc, ";", ":"), ":")
	if len(parts) != 4 {
		return 0, fmt.Errorf("timecode: malformed %q", tc)
	}
	vals := make([]int64, 4)
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("timecode: malformed %q", tc)
		}
		vals[i] = v
	}
	hh, mm, ss, ff := vals[0], vals[1], vals[2], vals[3]
	if mm > 59 || ss > 59 || ff >= nominal {
		return 0, fmt.Errorf("timecode: field out of range in %q", tc)
	}

	frames := ((hh*60+mm)*60+ss)*nominal + ff
	if RequiresDropFrame(fps) {
		totalMinutes := hh*60 + mm
		frames -= dropPerMinute(fps) * (totalMinutes - totalMinutes/10)
	}
	return frames, nil
}
