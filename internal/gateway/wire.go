package gateway

import (
	"fmt"
	"time"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
)

// serverTimeLayouts are tried in order. The server emits naive UTC timestamps
// without an offset.
var serverTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

type alertWire struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Message     string  `json:"message"`
	AlertType   string  `json:"alert_type"`
	PatientName *string `json:"patient_name"`
	DueDate     *string `json:"due_date"`
	IsRead      bool    `json:"is_read"`
	CreatedAt   *string `json:"created_at"`
}

func (w alertWire) toAlert() (model.Alert, error) {
	a := model.Alert{
		ID:        w.ID,
		Title:     w.Title,
		Message:   w.Message,
		AlertType: w.AlertType,
		IsRead:    w.IsRead,
	}
	if w.ID == "" {
		return a, fmt.Errorf("alert without id")
	}
	if w.PatientName != nil {
		a.PatientName = *w.PatientName
	}
	var err error
	if a.DueDate, err = parseServerTime(w.DueDate); err != nil {
		return a, fmt.Errorf("alert %s: due_date: %w", w.ID, err)
	}
	if a.CreatedAt, err = parseServerTime(w.CreatedAt); err != nil {
		return a, fmt.Errorf("alert %s: created_at: %w", w.ID, err)
	}
	return a, nil
}

// parseServerTime returns the zero time for a missing value
func parseServerTime(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	for _, layout := range serverTimeLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", *s)
}
