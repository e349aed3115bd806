// Package async runs independent tasks concurrently and collects every
// failure.
//
// [RunParallel] is used by the CLI to resume all unfinished deployments at
// once. Deployments are keyed by app name and share no state, so they can
// proceed side by side.
package async
