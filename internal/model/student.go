package model

import "time"

type Student struct {
	StudentID    string    `json:"student_id" firestore:"student_id"`
	Name         string    `json:"name" firestore:"name"`
	StateCode    string    `json:"state_code" firestore:"state_code"`
	DistrictCode string    `json:"district_code" firestore:"district_code"`
	SchoolCode   string    `json:"school_code" firestore:"school_code"`
	SchoolName   string    `json:"school_name,omitempty" firestore:"school_name,omitempty"`
	AuthUID      string    `json:"auth_uid" firestore:"auth_uid"`
	Email        string    `json:"email" firestore:"email"`
	Class        string    `json:"class,omitempty" firestore:"class,omitempty"`
	Gender       string    `json:"gender,omitempty" firestore:"gender,omitempty"`
	Age          int       `json:"age,omitempty" firestore:"age,omitempty"`
	ParentName   string    `json:"parent_name,omitempty" firestore:"parent_name,omitempty"`
	WhatsApp     string    `json:"whatsapp,omitempty" firestore:"whatsapp,omitempty"`
	Address      string    `json:"address,omitempty" firestore:"address,omitempty"`
	CreatedAt    time.Time `json:"created_at" firestore:"created_at"`
	CreatedBy    string    `json:"created_by,omitempty" firestore:"created_by,omitempty"`
}

func (s Student) SchoolKey() SchoolKey {
	return SchoolKey{StateCode: s.StateCode, DistrictCode: s.DistrictCode, SchoolCode: s.SchoolCode}
}

// StudentInput is one student to provision, from the single-add form or a
// validated upload row. Row is zero for single adds.
type StudentInput struct {
	Row          int    `json:"row,omitempty"`
	Name         string `json:"name" validate:"required,min=2"`
	StateCode    string `json:"state_code" validate:"required"`
	DistrictCode string `json:"district_code" validate:"required,len=2,numeric"`
	SchoolCode   string `json:"school_code" validate:"required,len=3,numeric"`
	Class        string `json:"class,omitempty" validate:"omitempty,oneof=8 9 10"`
	Gender       string `json:"gender,omitempty" validate:"omitempty,oneof=Male Female Other"`
	Age          int    `json:"age,omitempty" validate:"omitempty,min=10,max=20"`
	ParentName   string `json:"parent_name,omitempty"`
	WhatsApp     string `json:"whatsapp,omitempty" validate:"omitempty,len=10,numeric"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Address      string `json:"address,omitempty"`
	CreatedBy    string `json:"-"`
}

func (in StudentInput) SchoolKey() SchoolKey {
	return SchoolKey{StateCode: in.StateCode, DistrictCode: in.DistrictCode, SchoolCode: in.SchoolCode}
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the result of provisioning one student. Password is only
// populated on success and is never persisted with the profile.
type Outcome struct {
	Row       int           `json:"row,omitempty"`
	Name      string        `json:"name"`
	StudentID string        `json:"student_id,omitempty"`
	Email     string        `json:"email,omitempty"`
	Password  string        `json:"password,omitempty"`
	Status    OutcomeStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
}

type BatchResult struct {
	Outcomes     []Outcome `json:"outcomes"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}
