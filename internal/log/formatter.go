// Package log provides the logrus formatter and context helpers used by aasha_sync.
package log

import (
	"sort"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// leadingFields are printed before any other field, in this order
var leadingFields = map[string]int{
	"component": 0,
	"drain_id":  1,
	"type":      2,
}

// NewFormatter returns a text formatter with full timestamps and the
// component field printed first
func NewFormatter(noColors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		DisableColors:    noColors,
		FullTimestamp:    true,
		TimestampFormat:  timestampFormat,
		QuoteEmptyFields: true,
		SortingFunc:      sortFields,
	}
}

// sortFields keeps logrus' own keys (time, level, msg) in front, then the
// leading fields, then everything else alphabetically
func sortFields(keys []string) {
	rank := func(k string) int {
		switch k {
		case logrus.FieldKeyTime:
			return -3
		case logrus.FieldKeyLevel:
			return -2
		case logrus.FieldKeyMsg:
			return -1
		}
		if r, ok := leadingFields[k]; ok {
			return r
		}
		return len(leadingFields)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
}
