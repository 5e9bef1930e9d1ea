package host

// FakeStationLister returns a fixed station list.
type FakeStationLister struct {
	List  []string
	Calls int
}

// Stations returns a copy of List.
func (f *FakeStationLister) Stations() []string {
	f.Calls++
	out := make([]string, len(f.List))
	copy(out, f.List)
	return out
}

// FakeHalter records Halt calls.
type FakeHalter struct {
	// Calls counts Halt invocations, successful or not.
	Calls int

	// Err, if set, is returned by Halt.
	Err error
}

// Halt records the call and returns Err.
func (f *FakeHalter) Halt() error {
	f.Calls++
	return f.Err
}
