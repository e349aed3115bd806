// Package hcloud implements provider.Provider on Hetzner Cloud.
//
// Hetzner has no notion of an app, so the package composes one from plain
// resources, all labelled with the app name:
//
//   - app: a firewall named after the app (its existence marker), plus an
//     SSH key used to reach the app's servers
//   - IP address: a primary IP, attached to the first machine that exposes
//     services
//   - volume: a block volume, formatted ext4
//   - machine: a server booted from the docker-ce app image whose cloud-init
//     runs the machine's image as a container (see cloudinit.go)
//   - exec: docker exec over SSH
//   - secrets: objects in S3-compatible storage (package s3)
//
// # Generic Operations
//
// Deletes go through DeleteOperation, which is idempotent and retries while
// Hetzner reports the resource as locked or still in use. Volumes and
// firewalls stay in use for a few seconds after their server is deleted.
//
// # Limitations
//
// Service port handlers are not emulated: published ports forward raw TCP to
// the container, there is no TLS termination in front of it. Hetzner volumes
// are at least 10 GB.
package hcloud
