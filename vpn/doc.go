// Package vpn provides tunnel session management for MasyaVPN.
//
// This package turns a short-lived credential into a system-wide tunnel:
//
//   - Credential: the payload and session id handed over by the issuing service
//   - Manager: the single session state machine of the host
//   - Ledger: which provisioning steps of the current attempt completed
//   - HTTPProber and HealthMonitor: connectivity checks through the tunnel
//
// # Connection Flow
//
// Manager.Connect reaps stray engines, allocates the listener ports and
// renders the engine configuration, then runs the provisioning steps in
// order:
//
//  1. gateway-resolved: cache the default gateway and its interface
//  2. config-written: write the engine configuration file
//  3. server-ip-resolved: resolve the tunnel endpoint to an IPv4 address
//  4. proxy-engine-up: validate the configuration and start the proxy engine
//  5. config-deleted: remove the configuration file
//  6. adapter-bridge-up: start the bridge that creates the virtual adapter
//  7. connectivity-verified: probe through the SOCKS listener (never fails)
//  8. adapter-ip-assigned: static addressing on the virtual adapter
//  9. dns-assigned: tunnel resolvers on the adapter and the physical interface
//  10. default-route-installed: metric 1 default routes via the adapter
//  11. gateway-reresolved: rediscover the gateway for diagnostics
//  12. exception-route-installed: host route to the server via the cached gateway
//
// When a step fails, the completed steps are reversed in reverse order and
// the error is returned wrapped in a *common.StepError. Manager.Disconnect
// runs the same reversal for an established session.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Connect and Disconnect are
// serialized, and a Connect issued while another is in progress or a
// session is established fails immediately with ErrAlreadyActive.
package vpn
