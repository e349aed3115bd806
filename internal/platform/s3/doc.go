// Package s3 stores app secrets and machine keys in S3-compatible object
// storage (Hetzner Object Storage in production).
//
// Hetzner Cloud has no secret store of its own, so the hcloud provider keeps
// one object per secret under <app>/secrets/ and lists that prefix to answer
// ListSecrets. Digests are the objects' ETags; values never leave the store
// except to be written into the machine's environment file.
package s3
