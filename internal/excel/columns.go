package excel

import (
	"fmt"
	"strings"

	"mindleap-provisioning/pkg/errors"
)

type column int

const (
	colWhatsApp column = iota
	colEmail
	colParent
	colName
	colState
	colDistrict
	colSchool
	colClass
	colGender
	colAge
	colAddress
	columnCount
)

var columnLabels = [columnCount]string{
	colWhatsApp: "WhatsApp Number",
	colEmail:    "Email",
	colParent:   "Parent Name",
	colName:     "Student Name",
	colState:    "State Code",
	colDistrict: "District Code",
	colSchool:   "School Code",
	colClass:    "Class",
	colGender:   "Gender",
	colAge:      "Age",
	colAddress:  "Address",
}

var requiredColumns = []column{colState, colDistrict, colSchool, colName}

// Matchers are tried in column order, so "Parent WhatsApp" lands on the
// WhatsApp column and "Parent Name" never shadows the student name.
var columnMatchers = [columnCount]func(h string) bool{
	colWhatsApp: func(h string) bool { return strings.Contains(h, "whatsapp") },
	colEmail:    func(h string) bool { return strings.Contains(h, "email") || strings.Contains(h, "e-mail") },
	colParent:   func(h string) bool { return strings.Contains(h, "parent") },
	colName: func(h string) bool {
		return strings.Contains(h, "name") && !containsAny(h, "school", "district", "state")
	},
	colState:    func(h string) bool { return strings.Contains(h, "state") && !strings.Contains(h, "name") },
	colDistrict: func(h string) bool { return strings.Contains(h, "district") && !strings.Contains(h, "name") },
	colSchool:   func(h string) bool { return strings.Contains(h, "school") && !strings.Contains(h, "name") },
	colClass:    func(h string) bool { return strings.Contains(h, "class") || strings.Contains(h, "grade") },
	colGender:   func(h string) bool { return strings.Contains(h, "gender") || h == "sex" },
	colAge:      func(h string) bool { return h == "age" || strings.HasPrefix(h, "age ") || strings.HasSuffix(h, " age") },
	colAddress:  func(h string) bool { return strings.Contains(h, "address") },
}

// columnMap holds the index of each recognised column, -1 when absent.
type columnMap [columnCount]int

func mapHeader(header []string) (columnMap, error) {
	var m columnMap
	for i := range m {
		m[i] = -1
	}

	for idx, raw := range header {
		h := strings.ToLower(strings.TrimSpace(raw))
		if h == "" {
			continue
		}
		for c := column(0); c < columnCount; c++ {
			if m[c] == -1 && columnMatchers[c](h) {
				m[c] = idx
				break
			}
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if m[c] == -1 {
			missing = append(missing, columnLabels[c])
		}
	}
	if len(missing) > 0 {
		return m, fmt.Errorf("%w: %s", errors.ErrMissingColumn, strings.Join(missing, ", "))
	}
	return m, nil
}

func (m columnMap) value(row []string, c column) string {
	idx := m[c]
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
