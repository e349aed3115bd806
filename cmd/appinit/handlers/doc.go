// Package handlers implements the appinit commands.
//
// Each exported function runs one command. Construction of the logger,
// provider, journal and health checker goes through package-level factory variables
// so tests can replace them.
package handlers
