package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTemperature = "temperature"
	MeasurementGroupQuery  = "group_query"
)

// WriteTemperature records one reading for a device.
func (c *Client) WriteTemperature(groupID, deviceID string, value float64) {
	c.write(temperaturePoint(groupID, deviceID, value, time.Now()))
}

// WriteQueryMetric records the outcome of one aggregate query: its duration,
// the number of devices asked and a count per reading status.
func (c *Client) WriteQueryMetric(groupID string, outcomes map[string]int, duration time.Duration) {
	c.write(queryPoint(groupID, outcomes, duration, time.Now()))
}

// WritePoint writes an arbitrary point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() || c.writer == nil {
		return
	}
	c.writer.WritePoint(p)
}

func temperaturePoint(groupID, deviceID string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementTemperature,
		map[string]string{"group_id": groupID, "device_id": deviceID},
		map[string]any{"value": value},
		ts)
}

func queryPoint(groupID string, outcomes map[string]int, duration time.Duration, ts time.Time) *write.Point {
	total := 0
	fields := make(map[string]any, len(outcomes)+2)
	for status, n := range outcomes {
		fields[status] = n
		total += n
	}
	fields["total"] = total
	fields["duration_ms"] = float64(duration) / float64(time.Millisecond)

	return write.NewPoint(MeasurementGroupQuery,
		map[string]string{"group_id": groupID},
		fields,
		ts)
}
