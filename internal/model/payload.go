package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the typed body of a record. Each record type has its own
// concrete payload matching the remote create schema.
type Payload interface {
	RecordType() RecordType
}

// FamilySurvey is the body of POST /api/family-surveys
type FamilySurvey struct {
	HouseholdID      string `json:"household_id"`
	MembersList      string `json:"members_list"`
	Sanitation       string `json:"sanitation"`
	ChronicIllnesses string `json:"chronic_illnesses"`
}

func (FamilySurvey) RecordType() RecordType { return TypeFamilySurvey }

// PregnancyReport is the body of POST /api/pregnancy-reports
type PregnancyReport struct {
	LMP          time.Time `json:"lmp"`
	EDD          time.Time `json:"edd"`
	Gravida      int       `json:"gravida"`
	Para         int       `json:"para"`
	ANCCheckups  string    `json:"anc_checkups"`
	RiskFactors  string    `json:"risk_factors"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
}

func (PregnancyReport) RecordType() RecordType { return TypePregnancyReport }

// ChildVaccination is the body of POST /api/child-vaccinations
type ChildVaccination struct {
	ChildName       string    `json:"child_name"`
	ChildDOB        time.Time `json:"child_dob"`
	VaccineSchedule string    `json:"vaccine_schedule"`
	MissedDoses     string    `json:"missed_doses"`
	NextDue         time.Time `json:"next_due"`
	ParentName      string    `json:"parent_name"`
	ParentPhone     string    `json:"parent_phone"`
}

func (ChildVaccination) RecordType() RecordType { return TypeChildVaccination }

// PostnatalCare is the body of POST /api/postnatal-care
type PostnatalCare struct {
	PNCVisits    string    `json:"pnc_visits"`
	MotherHealth string    `json:"mother_health"`
	BabyHealth   string    `json:"baby_health"`
	Counselling  string    `json:"counselling"`
	MotherName   string    `json:"mother_name"`
	DeliveryDate time.Time `json:"delivery_date"`
}

func (PostnatalCare) RecordType() RecordType { return TypePostnatalCare }

// LeprosyReport is the body of POST /api/leprosy-reports
type LeprosyReport struct {
	PatientName       string `json:"patient_name"`
	LeprosyType       string `json:"leprosy_type"`
	Treatment         string `json:"treatment"`
	FollowUps         string `json:"follow_ups"`
	HouseholdContacts string `json:"household_contacts"`
}

func (LeprosyReport) RecordType() RecordType { return TypeLeprosyReport }

// EncodePayload serializes a payload to the JSON stored locally and sent remotely
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload")
	}
	if !p.RecordType().Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, p.RecordType())
	}
	return json.Marshal(p)
}

// DecodePayload parses data into the concrete payload for t.
// Unknown fields are rejected so schema drift surfaces early.
func DecodePayload(t RecordType, data []byte) (Payload, error) {
	switch t {
	case TypeFamilySurvey:
		return decodeInto[FamilySurvey](data)
	case TypePregnancyReport:
		return decodeInto[PregnancyReport](data)
	case TypeChildVaccination:
		return decodeInto[ChildVaccination](data)
	case TypePostnatalCare:
		return decodeInto[PostnatalCare](data)
	case TypeLeprosyReport:
		return decodeInto[LeprosyReport](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, t)
	}
}

func decodeInto[T Payload](data []byte) (Payload, error) {
	var p T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", p.RecordType(), err)
	}
	return p, nil
}
