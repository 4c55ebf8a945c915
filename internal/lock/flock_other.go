//go:build !unix

package lock

import "os"

// Advisory locking is not available; a single instance is not enforced.
func flock(*os.File) error   { return nil }
func funlock(*os.File) error { return nil }
