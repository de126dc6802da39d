// Package ranging measures the distance to the obstacle ahead with an
// HC-SR04 class echo sensor.
//
// A measurement sends a short trigger pulse and times the echo line: the
// rising edge marks pulse_start, the falling edge pulse_end. Both are
// captured in the edge callback from timestamps the backend takes when
// the edge happens, so callback latency does not skew the reading. The
// caller waits on a wake signal raised by the falling edge, bounded by a
// timeout; on timeout the window is closed at the sensor's rated maximum.
//
// Distance is (pulse_end - pulse_start) * 0.34 / 2 millimetres, clamped
// into the sensor's usable range.
package ranging
