package detector

// Detector is a strategy that determines if a service or process is running.
// Implementations may probe a network endpoint or a PID number.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the target is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
