// Package adapter implements the router capability contract for each
// supported vendor family.
//
// Every adapter satisfies Router. Adapters are a closed set of variants,
// one per wire protocol, and are built through the Registry:
//
//   - UniFi speaks cookie-authenticated JSON REST to a controller over HTTPS
//     with self-signed certificates tolerated.
//   - ASUS attaches HTTP basic credentials to appGet.cgi hooks.
//   - OpenWrt logs in over LuCI JSON-RPC and drives UCI through an
//     exec call that carries the auth token on every request.
//   - pfSense scrapes the web GUI: CSRF token, login form, dashboard marker.
//   - Netgear speaks the SOAP API used by the Genie apps.
//
// # Sessions
//
// An adapter holds at most one session, created by a successful Connect and
// cleared by Disconnect. Reconnecting replaces the session; nothing else
// mutates it. Operations other than Connect and Disconnect fail with
// domain.ErrNotConnected while no session exists.
//
// Adapters are not safe for concurrent use. The session cache serializes
// calls per address.
//
// # Failure Semantics
//
// Transport faults (timeouts, refused connections, TLS errors) are caught
// here and reported as domain.KindUnreachable. Nothing unclassified leaves
// an adapter. Caller input is validated before any network call.
//
// # Optional Capabilities
//
// ConfigBackuper is implemented by adapters that can export the router
// configuration. Its absence is not an error.
package adapter
