//go:build !unix

package lockfile

// Non-unix platforms run without process exclusivity.
func acquire(string) (func() error, error) {
	return func() error { return nil }, nil
}
