package machine

import "time"

// registerStdlib installs the baseline native functions. Hosts can add
// more with RegisterNative before running a program.
func registerStdlib(m *Machine) {
	// seconds elapsed since the machine was created, as a double
	m.RegisterNative("clock", 0, func(m *Machine, _ []Value) (Value, error) {
		return Number(time.Since(m.epoch).Seconds()), nil
	})
}
