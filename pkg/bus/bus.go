// Package bus carries command strings to GPIB instruments.
//
// A single controller is shared by every instrument on the bus. Callers name
// the instrument by its primary address on every call, and the controller is
// re-addressed only when the target changes.
package bus

// Bus is the transport the instrument drivers are written against.
type Bus interface {
	// Write sends a command to the instrument at addr.
	Write(addr int, cmd string) error
	// Query sends a command and returns the instrument's one-line response.
	Query(addr int, cmd string) (string, error)
	// ReadLine reads one pending response (terminated by EOI) from addr.
	ReadLine(addr int) (string, error)
	// SerialPoll returns the status byte of the instrument at addr.
	SerialPoll(addr int) (byte, error)
	// Clear sends Selected Device Clear to addr.
	Clear(addr int) error
	// Close releases the underlying port.
	Close() error
}
