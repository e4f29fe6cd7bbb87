// Package digitalio exposes GPIO lines as device settings. Each configured
// line becomes a bool setting; output lines can be written, input lines
// are read-only.
//
// On a Raspberry Pi the lines are driven through go-rpio. MemoryDriver
// stands in for the hardware elsewhere.
package digitalio
