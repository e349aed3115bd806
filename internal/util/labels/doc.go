// Package labels provides consistent labeling for Hetzner Cloud resources.
//
// Every resource created for an app carries the app name, so the whole app
// can be listed and removed with one label selector. Labels use the
// appinit.io domain prefix.
package labels
