// Package sensors models the quarter sensor registry and its CSV representation.
package sensors

// Record is one quarter sensor. Temp and TempWithNoise are nil until a
// ground truth has been applied, and are always set together.
type Record struct {
	ID            string   `json:"id"`
	Lat           float64  `json:"lat"`
	Lng           float64  `json:"lng"`
	Activated     string   `json:"activated"`
	Temp          *float64 `json:"temp"`
	TempWithNoise *float64 `json:"tempWithNoise"`
}

// WithTemperature returns a copy of r carrying temp and its noisy reading.
func (r Record) WithTemperature(temp, withNoise float64) Record {
	r.Temp = &temp
	r.TempWithNoise = &withNoise
	return r
}

// HasTemperature reports whether a ground truth has been applied to r.
func (r Record) HasTemperature() bool {
	return r.Temp != nil && r.TempWithNoise != nil
}

// Split divides records positionally: first holds records[:n/2], second the rest.
// Both halves share the backing array of records.
func Split(records []Record) (first, second []Record) {
	mid := len(records) / 2
	return records[:mid], records[mid:]
}
