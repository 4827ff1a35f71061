package device

import "encoding/json"

// Reading status values, as reported by TemperatureReading.Status.
const (
	StatusTemperature             = "temperature"
	StatusTemperatureNotAvailable = "temperature_not_available"
	StatusDeviceNotAvailable      = "device_not_available"
	StatusDeviceTimedOut          = "device_timed_out"
)

// TemperatureReading is the outcome of reading one device during an
// aggregate query. The set of variants is closed:
//
//   - Temperature: the device answered with a value
//   - TemperatureNotAvailable: the device answered but never recorded a value
//   - DeviceNotAvailable: the device terminated before answering
//   - DeviceTimedOut: the deadline passed before either happened
type TemperatureReading interface {
	Status() string
	isTemperatureReading()
}

// Temperature is a successful reading.
type Temperature struct {
	Value float64
}

// TemperatureNotAvailable means the device is alive but has no value yet.
type TemperatureNotAvailable struct{}

// DeviceNotAvailable means the device worker terminated before it answered.
type DeviceNotAvailable struct{}

// DeviceTimedOut means the device neither answered nor terminated in time.
type DeviceTimedOut struct{}

func (Temperature) Status() string             { return StatusTemperature }
func (TemperatureNotAvailable) Status() string { return StatusTemperatureNotAvailable }
func (DeviceNotAvailable) Status() string      { return StatusDeviceNotAvailable }
func (DeviceTimedOut) Status() string          { return StatusDeviceTimedOut }

func (Temperature) isTemperatureReading()             {}
func (TemperatureNotAvailable) isTemperatureReading() {}
func (DeviceNotAvailable) isTemperatureReading()      {}
func (DeviceTimedOut) isTemperatureReading()          {}

// readingJSON is the wire form shared by all variants.
type readingJSON struct {
	Status string   `json:"status"`
	Value  *float64 `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t Temperature) MarshalJSON() ([]byte, error) {
	v := t.Value
	return json.Marshal(readingJSON{Status: StatusTemperature, Value: &v})
}

// MarshalJSON implements json.Marshaler.
func (TemperatureNotAvailable) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{Status: StatusTemperatureNotAvailable})
}

// MarshalJSON implements json.Marshaler.
func (DeviceNotAvailable) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{Status: StatusDeviceNotAvailable})
}

// MarshalJSON implements json.Marshaler.
func (DeviceTimedOut) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{Status: StatusDeviceTimedOut})
}

// readingFromValue converts a device answer into a reading.
func readingFromValue(value *float64) TemperatureReading {
	if value == nil {
		return TemperatureNotAvailable{}
	}
	return Temperature{Value: *value}
}

// Summary counts the outcomes of one aggregate query.
type Summary struct {
	Total        int `json:"total"`
	Temperatures int `json:"temperatures"`
	NoReading    int `json:"not_available"`
	Unavailable  int `json:"device_not_available"`
	TimedOut     int `json:"timed_out"`
}

// Summarize counts the readings by variant.
func Summarize(readings map[string]TemperatureReading) Summary {
	s := Summary{Total: len(readings)}
	for _, r := range readings {
		switch r.(type) {
		case Temperature:
			s.Temperatures++
		case TemperatureNotAvailable:
			s.NoReading++
		case DeviceNotAvailable:
			s.Unavailable++
		case DeviceTimedOut:
			s.TimedOut++
		}
	}
	return s
}
