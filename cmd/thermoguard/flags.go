package main

// Flag structs decouple cobra from the handlers so the logic stays testable.

// RunFlags holds flags for the run command.
type RunFlags struct {
	ConfigPath string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	ConfigPath string
}
