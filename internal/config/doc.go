// Package config holds everything a deployment reads before it touches the
// provider: the deployment spec, the runtime settings (images, ports, machine
// sizing), the polling timeouts and the provider credentials.
//
// Settings and timeouts have defaults that work against Fly.io and can be
// overridden through a YAML file and APPINIT_* environment variables.
package config
