// Package sim provides simulated adapters: a camera that renders synthetic
// images, a multi-axis stage, a filter wheel, a laser and a temperature
// value logger. Each can be taken offline to exercise fault handling
// without hardware.
package sim
