// Package acquisition holds the frames a device produces until a consumer
// fetches them.
//
// A Buffer is a bounded FIFO with a single producer (the device worker) and
// any number of consumers. When it is full the oldest frame is evicted and
// the overflow counter incremented; the producer never blocks. Consumers
// detect evictions from gaps in the sequence numbers even without reading
// the counters.
package acquisition
