// Package motion drives the agent open loop. A movement is turned into a
// duration from calibrated velocities, a one-shot alarm is armed for that
// duration, the motor pins are set, and the caller waits until the alarm
// callback reports completion before the motors are stopped.
//
// There is no odometry: accuracy depends entirely on the calibration.
package motion
