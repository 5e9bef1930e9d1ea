package telemetry

// Reading is one value delivered to a sink.
type Reading struct {
	Name  string
	Value float64
}

// FakeSink records readings for test assertions.
type FakeSink struct {
	// Readings contains every value written, in order.
	Readings []Reading

	// WriteError, if set, will be returned by Write.
	WriteError error
}

// Write records the reading.
func (f *FakeSink) Write(m Metric, value float64) error {
	f.Readings = append(f.Readings, Reading{Name: m.Name, Value: value})
	return f.WriteError
}
