package geofence

// FakeLocator returns scripted fixes for tests.
type FakeLocator struct {
	// Coord is returned by Fix when Err is nil.
	Coord Coordinate

	// Err, if set, is returned by Fix.
	Err error

	// Calls counts Fix invocations.
	Calls int
}

// Fix returns Coord or Err.
func (f *FakeLocator) Fix() (Coordinate, error) {
	f.Calls++
	if f.Err != nil {
		return Coordinate{}, f.Err
	}
	return f.Coord, nil
}
