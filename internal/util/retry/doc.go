// Package retry provides exponential backoff for transient transport failures.
//
// [Do] retries an operation until it succeeds, returns an error marked with
// [Fatal], or runs out of attempts. It is used by the platform API clients;
// saga-level polling never goes through it.
package retry
