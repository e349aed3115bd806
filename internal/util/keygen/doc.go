// Package keygen generates SSH key pairs for Hetzner machines.
//
// When no operator key is configured, every app gets its own Ed25519 key:
// the public half is registered with Hetzner Cloud and the private half is
// kept next to the app's secrets so Exec works across process restarts.
package keygen
