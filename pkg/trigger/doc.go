// Package trigger implements the arm/trigger/abort lifecycle of an
// acquisition-capable device.
//
// # States
//
//	IDLE -arm-> ARMED -trigger-> TRIGGERING -> ACQUIRING
//	ARMED, TRIGGERING, ACQUIRING -abort-> ABORTING -> IDLE
//	any -fault-> FAULTED -reset-> IDLE
//
// TRIGGERING and ABORTING only exist while the corresponding operation runs
// on the device worker. An arm or trigger submitted during either fails
// with DeviceBusy instead of queuing.
//
// # Arm cycles
//
// Every successful arm allocates a new cycle number. Frames carry the cycle
// they were captured in so that late frames from an aborted cycle can be
// discarded.
//
// # Faults
//
// Adapter hooks passed to Arm, Trigger and Abort return errors. Errors of
// kind CommunicationError and errors without a kind fault the machine;
// other kinded errors are returned unchanged and leave the state as it was.
// From FAULTED every operation except Reset fails with DeviceFaulted.
package trigger
