// Package sim is a deterministic hardware backend for tests and the
// simulate command.
//
// A [Rig] wires recording pins, a clock, a one-shot alarm and an echo line
// into a [hal.Board]. The clock is either a [ManualClock], advanced
// explicitly by tests, or a [ScaledClock] that runs faster than wall time.
// The echo line answers trigger pulses through a [Responder]: a fixed
// script of pulse widths, or a [World] that moves the robot through a
// rectangular arena according to the motor pin pattern and reports the
// true distance to the wall ahead.
package sim
