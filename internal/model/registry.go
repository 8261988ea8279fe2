package model

import "fmt"

// State embeds its districts; districts are not keyed separately.
type State struct {
	Code      string     `json:"code" firestore:"code"`
	Name      string     `json:"name" firestore:"name"`
	Districts []District `json:"districts" firestore:"districts"`
}

// District returns the district with the given code, or nil.
func (s *State) District(code string) *District {
	for i := range s.Districts {
		if s.Districts[i].Code == code {
			return &s.Districts[i]
		}
	}
	return nil
}

type District struct {
	Code string `json:"code" firestore:"code"`
	Name string `json:"name" firestore:"name"`
}

type SchoolStatus string

const (
	SchoolStatusActive   SchoolStatus = "active"
	SchoolStatusInactive SchoolStatus = "inactive"
)

type School struct {
	Code         string       `json:"code" firestore:"code"`
	Name         string       `json:"name" firestore:"name"`
	StateCode    string       `json:"state_code" firestore:"state_code"`
	DistrictCode string       `json:"district_code" firestore:"district_code"`
	DistrictName string       `json:"district_name" firestore:"district_name"`
	Status       SchoolStatus `json:"status" firestore:"status"`
}

func (s School) Key() SchoolKey {
	return SchoolKey{StateCode: s.StateCode, DistrictCode: s.DistrictCode, SchoolCode: s.Code}
}

// SchoolKey identifies a school globally: school codes are unique only
// within their district.
type SchoolKey struct {
	StateCode    string `json:"state_code"`
	DistrictCode string `json:"district_code"`
	SchoolCode   string `json:"school_code"`
}

func (k SchoolKey) String() string {
	return fmt.Sprintf("%s-%s-%s", k.StateCode, k.DistrictCode, k.SchoolCode)
}

// Scope is the operator-selected subset of the registry an upload may
// touch. An empty list leaves that level unrestricted.
type Scope struct {
	States    []string    `json:"states"`
	Districts []string    `json:"districts"`
	Schools   []SchoolKey `json:"schools"`
}

func (s Scope) AllowsState(code string) bool {
	return len(s.States) == 0 || contains(s.States, code)
}

func (s Scope) AllowsDistrict(code string) bool {
	return len(s.Districts) == 0 || contains(s.Districts, code)
}

func (s Scope) AllowsSchool(key SchoolKey) bool {
	if len(s.Schools) == 0 {
		return true
	}
	for _, k := range s.Schools {
		if k == key {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Capacity describes how much of a code range is still free.
type Capacity struct {
	Kind      string `json:"kind"`
	Scope     string `json:"scope"`
	Used      int    `json:"used"`
	Free      int    `json:"free"`
	Exhausted bool   `json:"exhausted"`
}
