// Package ctstraffic implements a configurable network traffic generator
// and protocol-integrity verifier. It drives many concurrent TCP or UDP
// connections between a client (connect role) and a server (listen role),
// moves bytes in a prescribed pattern, and validates that received bytes
// match a deterministic payload.
package ctstraffic

// DefaultPort is the default TCP/UDP port ctstraffic communicates on.
const DefaultPort uint16 = 5991
