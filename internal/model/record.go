// Package model defines the records, alerts and dashboard snapshot handled by the
// offline submission pipeline.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownRecordType is returned for type tags outside the closed record set
var ErrUnknownRecordType = errors.New("unknown record type")

// RecordType tags the kind of field-collected submission
type RecordType string

const (
	TypeFamilySurvey     RecordType = "family_survey"
	TypePregnancyReport  RecordType = "pregnancy_report"
	TypeChildVaccination RecordType = "child_vaccination"
	TypePostnatalCare    RecordType = "postnatal_care"
	TypeLeprosyReport    RecordType = "leprosy_report"
)

// RecordTypes lists every known record type
var RecordTypes = []RecordType{
	TypeFamilySurvey,
	TypePregnancyReport,
	TypeChildVaccination,
	TypePostnatalCare,
	TypeLeprosyReport,
}

// Valid reports whether t belongs to the closed record set
func (t RecordType) Valid() bool {
	for _, known := range RecordTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseRecordType converts a type tag into a RecordType
func ParseRecordType(s string) (RecordType, error) {
	t := RecordType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRecordType, s)
	}
	return t, nil
}

// SyncState tells whether the remote authority has acknowledged a record.
// There is no failed state: a record that fails submission stays pending.
type SyncState string

const (
	StatePending SyncState = "pending"
	StateSynced  SyncState = "synced"
)

// Record is one field-collected submission held by the local store
type Record struct {
	ID        int64
	Type      RecordType
	Payload   Payload
	CreatedAt time.Time
	State     SyncState
}

// StateFromSynced maps the persisted synced flag to a SyncState
func StateFromSynced(synced bool) SyncState {
	if synced {
		return StateSynced
	}
	return StatePending
}
