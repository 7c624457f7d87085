// Package haptic defines the capability contract shared by every haptic
// device implementation: a local hardware session, a network-facing control
// server wrapping one, and a remote client proxy.
//
// Positions and orientations are reported as three-component vectors. Button
// states are reported as 0/1 values. Feedback is either a Cartesian force
// expressed in the application frame or a set of per-joint torques expressed
// in the device-native frame; which one is selected by the device Mode.
package haptic
