package model

import (
	"encoding/json"
	"time"
)

// Alert mirrors a server-issued alert. The local copy is read-only apart from
// the read flag.
type Alert struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	AlertType   string    `json:"alert_type"`
	PatientName string    `json:"patient_name"`
	DueDate     time.Time `json:"due_date"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

// DashboardSnapshot is the most recent server-computed statistics blob.
// Only one snapshot is kept at a time.
type DashboardSnapshot struct {
	Data      json.RawMessage
	FetchedAt time.Time
}

// DashboardStats is the shape of GET /api/dashboard
type DashboardStats struct {
	TotalSurveys      int `json:"total_surveys"`
	TotalPregnancies  int `json:"total_pregnancies"`
	TotalVaccinations int `json:"total_vaccinations"`
	TotalPNC          int `json:"total_pnc"`
	UnreadAlerts      int `json:"unread_alerts"`
	IncentivesEarned  int `json:"incentives_earned"`
}

// Stats decodes the snapshot data into DashboardStats
func (s *DashboardSnapshot) Stats() (DashboardStats, error) {
	var stats DashboardStats
	err := json.Unmarshal(s.Data, &stats)
	return stats, err
}
