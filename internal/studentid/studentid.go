// Package studentid composes and decomposes the human-readable student
// identifier: state code + year token + district code + school code + serial.
package studentid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	YearToken     = "25"
	DistrictWidth = 2
	SchoolWidth   = 3
	SerialWidth   = 3
	MaxDistrict   = 99
	MaxSchool     = 999
	MaxSerial     = 999
)

var idPattern = regexp.MustCompile(`^([A-Z]+)` + YearToken + `(\d{2})(\d{3})(\d{3})$`)

type Parts struct {
	StateCode    string
	DistrictCode string
	SchoolCode   string
	Serial       string
}

// Compose never fails; callers guarantee the parts are already padded.
func Compose(p Parts) string {
	return p.StateCode + YearToken + p.DistrictCode + p.SchoolCode + p.Serial
}

func Decompose(id string) (Parts, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return Parts{}, fmt.Errorf("malformed student id %q", id)
	}
	return Parts{StateCode: m[1], DistrictCode: m[2], SchoolCode: m[3], Serial: m[4]}, nil
}

// SerialOf returns the trailing serial of an id, or "" if the id is too short.
func SerialOf(id string) string {
	if len(id) < SerialWidth {
		return ""
	}
	return id[len(id)-SerialWidth:]
}

// Email derives the system login email for a student without one.
func Email(id, domain string) string {
	return strings.ToLower(id) + "@" + domain
}

// Pad zero-pads a numeric code to width. Non-numeric input is returned trimmed.
func Pad(code string, width int) string {
	code = strings.TrimSpace(code)
	n, err := strconv.Atoi(code)
	if err != nil || n < 0 {
		return code
	}
	return fmt.Sprintf("%0*d", width, n)
}

func PadDistrict(code string) string { return Pad(code, DistrictWidth) }
func PadSchool(code string) string   { return Pad(code, SchoolWidth) }
func FormatSerial(n int) string      { return fmt.Sprintf("%0*d", SerialWidth, n) }
