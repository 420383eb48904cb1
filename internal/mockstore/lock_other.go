//go:build !unix

package mockstore

// lockFile is a no-op where flock is unavailable; the store mutex still
// serializes access within one process.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
