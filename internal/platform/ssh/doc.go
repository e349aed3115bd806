// Package ssh runs commands on Hetzner machines over SSH.
//
// The hcloud provider uses it to implement Exec: it connects as root with
// the app's key, runs the command inside the machine's container and reports
// the exit status. Connections are retried while the server boots.
package ssh
