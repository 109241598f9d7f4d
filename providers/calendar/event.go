// Package calendar holds the event shape shared by the calendar adapters.
package calendar

import (
	"bytes"

	"github.com/goliatone/go-integrations/core"
)

type Event struct {
	ID       string
	Title    string
	Status   string
	Location string
	Start    string
	End      string
}

func (e Event) Record() map[string]any {
	return map[string]any{
		"id":       e.ID,
		"title":    e.Title,
		"status":   e.Status,
		"location": e.Location,
		"start":    e.Start,
		"end":      e.End,
	}
}

// Payload builds a unit payload for one month of events. Raw holds the
// fetched pages as newline-delimited JSON.
func Payload(period int, month int, events []Event, pages [][]byte) core.UnitPayload {
	records := make([]map[string]any, 0, len(events))
	for _, event := range events {
		records = append(records, event.Record())
	}
	return core.UnitPayload{
		UnitKey: month,
		Period:  period,
		Records: records,
		Raw:     bytes.Join(pages, []byte("\n")),
	}
}
