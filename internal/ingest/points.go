package ingest

import (
	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
	"github.com/wtthornton/HomeIQ-sub012/internal/storage"
)

// toPoints converts a batch into time-series points: entity and domain
// become tags, state and attributes become fields, the capture timestamp
// is preserved. Attribute keys never shadow the state fields.
func toPoints(measurement string, batch domain.Batch) []storage.Point {
	points := make([]storage.Point, 0, len(batch.Events))

	for _, event := range batch.Events {
		fields := make(map[string]any, len(event.Attributes)+2)
		fields["state"] = event.State
		if event.PreviousState != "" {
			fields["previous_state"] = event.PreviousState
		}
		for key, value := range event.Attributes {
			if key == "state" || key == "previous_state" {
				continue
			}
			fields[key] = value
		}

		points = append(points, storage.Point{
			Measurement: measurement,
			Tags: map[string]string{
				"entity_id": event.EntityID,
				"domain":    event.Domain,
			},
			Fields:    fields,
			Timestamp: event.Timestamp,
		})
	}

	return points
}
