package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordType(t *testing.T) {
	for _, rt := range RecordTypes {
		parsed, err := ParseRecordType(string(rt))
		require.NoError(t, err)
		assert.Equal(t, rt, parsed)
	}

	_, err := ParseRecordType("malaria_report")
	require.ErrorIs(t, err, ErrUnknownRecordType)
	assert.False(t, RecordType("").Valid())
}

func TestPayloadRecordTypes(t *testing.T) {
	tests := []struct {
		payload Payload
		want    RecordType
	}{
		{FamilySurvey{}, TypeFamilySurvey},
		{PregnancyReport{}, TypePregnancyReport},
		{ChildVaccination{}, TypeChildVaccination},
		{PostnatalCare{}, TypePostnatalCare},
		{LeprosyReport{}, TypeLeprosyReport},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.payload.RecordType())
	}
}

func TestDecodePayload(t *testing.T) {
	lmp := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	data, err := EncodePayload(PregnancyReport{LMP: lmp, Gravida: 2, PatientName: "Lakshmi"})
	require.NoError(t, err)

	p, err := DecodePayload(TypePregnancyReport, data)
	require.NoError(t, err)
	report, ok := p.(PregnancyReport)
	require.True(t, ok, "expected PregnancyReport, got %T", p)
	assert.True(t, lmp.Equal(report.LMP))
	assert.Equal(t, 2, report.Gravida)
	assert.Equal(t, "Lakshmi", report.PatientName)
}

func TestDecodePayloadRejectsSchemaDrift(t *testing.T) {
	_, err := DecodePayload(TypeLeprosyReport, []byte(`{"patient_name":"Ravi","household_id":"H-1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leprosy_report")

	_, err = DecodePayload("unknown", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownRecordType)
}

func TestEncodePayloadUsesServerFieldNames(t *testing.T) {
	data, err := EncodePayload(FamilySurvey{HouseholdID: "H-12", Sanitation: "good"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "H-12", fields["household_id"])
	assert.Equal(t, "good", fields["sanitation"])
	assert.Contains(t, fields, "members_list")

	_, err = EncodePayload(nil)
	assert.Error(t, err)
}

func TestStateFromSynced(t *testing.T) {
	assert.Equal(t, StateSynced, StateFromSynced(true))
	assert.Equal(t, StatePending, StateFromSynced(false))
}

func TestDashboardStats(t *testing.T) {
	snap := &DashboardSnapshot{Data: json.RawMessage(`{"total_surveys":3,"unread_alerts":1,"incentives_earned":150}`)}
	stats, err := snap.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSurveys)
	assert.Equal(t, 1, stats.UnreadAlerts)
	assert.Equal(t, 150, stats.IncentivesEarned)
}
