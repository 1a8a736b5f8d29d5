// Package domain defines the router-facing types shared by every vendor
// adapter: DHCP reservations, port forwards, network devices, system
// information and the error kinds reported across the adapter boundary.
//
// # Normal Form
//
// MAC addresses are always carried in lower-case, colon-separated,
// six-octet form. Constructors and Validate methods normalize caller input
// so adapters never compare two spellings of the same address.
//
// # Errors
//
// Every failure that leaves an adapter is an *Error with one of a closed
// set of kinds (NotConnected, AuthenticationFailed, Unreachable, ...).
// Callers match kinds with errors.Is against the Err* sentinels or pull
// the kind out of a wrapped chain with KindOf.
//
// # Design Principles
//
// - No network or storage dependencies
// - Validation happens here, before any adapter issues a remote call
package domain
