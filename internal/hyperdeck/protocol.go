package hyperdeck

import (
	"regexp"
	"strings"

	"github.com/superdash/superdash/internal/device"
)

// Response codes consumed by the client. 2xx are solicited responses,
// 5xx are asynchronous notifications; both carry the same payload.
const (
	codeSlotInfo           = 202
	codeTransportInfo      = 208
	codeAsyncSlotInfo      = 502
	codeAsyncTransportInfo = 508
)

// response is one parsed protocol unit: either a single line
// ("200 ok") or a multi-line block terminated by a blank line.
type response struct {
	code   int
	name   string
	fields map[string]string
}

func (r *response) isTransportInfo() bool {
	return r.code == codeTransportInfo || r.code == codeAsyncTransportInfo
}

func (r *response) isSlotInfo() bool {
	return r.code == codeSlotInfo || r.code == codeAsyncSlotInfo
}

func (r *response) isError() bool {
	return r.code >= 100 && r.code < 200
}

// parser assembles protocol lines into responses. Feed returns a
// completed response when one is available.
//
// Single-line responses look like "200 ok". Multi-line responses open
// with "208 transport info:" (note the trailing colon), carry
// "key: value" lines, and end with a blank line.
type parser struct {
	current *response
}

var headerRe = regexp.MustCompile(`^(\d{3})(?: (.*))?$`)

func (p *parser) feed(line string) (*response, bool) {
	line = strings.TrimRight(line, "\r\n")

	if p.current != nil {
		if line == "" {
			done := p.current
			p.current = nil
			return done, true
		}
		key, value, found := strings.Cut(line, ":")
		if found {
			p.current.fields[fieldKey(key)] = strings.TrimSpace(value)
		}
		return nil, false
	}

	m := headerRe.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	code := int(m[1][0]-'0')*100 + int(m[1][1]-'0')*10 + int(m[1][2]-'0')
	rest := m[2]

	if strings.HasSuffix(rest, ":") {
		p.current = &response{
			code:   code,
			name:   strings.TrimSuffix(rest, ":"),
			fields: make(map[string]string),
		}
		return nil, false
	}
	return &response{code: code, name: rest}, true
}

// fieldKey normalises a response field name: lowercased with spaces
// mapped to underscores ("Display Timecode" becomes display_timecode).
func fieldKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
}

// mapStatus converts a transport status value to a device state.
// Anything that is not playing or recording (stopped, preview, jog,
// shuttle, unknown) counts as stopped.
func mapStatus(status string) device.State {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "play", "playing":
		return device.StatePlay
	case "record", "recording":
		return device.StateRec
	default:
		return device.StateStop
	}
}

var (
	timecodeRe      = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}[:;]\d{2}$`)
	timecodeBareRe  = regexp.MustCompile(`^\d{8}$`)
	timecodeDropSep = ";"
)

// normalizeTimecode accepts HH:MM:SS:FF, HH:MM:SS;FF (drop-frame
// semicolon mapped to a colon) and bare 8-digit HHMMSSFF forms.
// Anything else is passed through unchanged; the caller logs it.
func normalizeTimecode(raw string) (string, bool) {
	tc := strings.TrimSpace(raw)
	switch {
	case timecodeRe.MatchString(tc):
		return strings.ReplaceAll(tc, timecodeDropSep, ":"), true
	case timecodeBareRe.MatchString(tc):
		return tc[0:2] + ":" + tc[2:4] + ":" + tc[4:6] + ":" + tc[6:8], true
	default:
		return raw, false
	}
}
