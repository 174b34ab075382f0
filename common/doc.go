// Package common provides shared constants, types, utilities, and interfaces
// used throughout the MasyaVPN client.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: application directory and file names, engine timeouts
//   - Errors: sentinel errors of the connection taxonomy plus StepError and
//     PlumbingError, which carry the failing step and OS output
//   - Interfaces: SessionStatus and the Logger abstraction
//   - Logger: leveled logging to the console and the diagnostic log file
//   - Utils: application data directory and file helpers
//   - Privileges: elevation check required before touching host networking
//
// # Usage
//
//	common.LogInfo("Resolved server IP: %s", ip)
//
//	if errors.Is(err, common.ErrPlumbingFailed) {
//	    // a route, address or DNS command failed
//	}
package common
