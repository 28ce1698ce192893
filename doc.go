// Package gelloteleop drives two robot arms from two handheld
// exoskeleton controllers in real time.
//
// Each controller's joint angles are read over a servo bus, mapped
// onto the driven arm relative to a captured baseline, shaped into a
// smooth bounded trajectory, and streamed to the arm at a fixed rate.
// A three-button foot pedal arms and disarms the pipeline; a seventh
// controller joint drives a digital gripper output per side.
//
// # Usage
//
// Probe the configured hardware:
//
//	gello-teleop check
//
// Run the daemon (pedal: left=interrupt, center=prepare then start,
// right=stop):
//
//	gello-teleop run
//
// Or watch it live with keyboard control:
//
//	gello-teleop monitor
//
// # Packages
//
//   - cmd/gello-teleop: CLI with run, check and monitor commands
//   - pkg/teleop: follow loop, motion shaping, scheduler, gripper
//   - pkg/pedal: HID pedal decoding and lifecycle intents
//   - pkg/robot: controller bus, calibration, rig config, dashboard
//   - pkg/transport: MQTT arm client and state publisher
package gelloteleop
