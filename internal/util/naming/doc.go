// Package naming provides consistent naming functions for Hetzner Cloud resources.
//
// Hetzner names are unique per project, so every resource name starts with
// the app name. The firewall and SSH key carry the bare app name and double
// as the app's existence marker.
package naming
