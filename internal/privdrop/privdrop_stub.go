//go:build !linux

package privdrop

// Drop is a no-op on platforms without setuid semantics.
func Drop(username string) error {
	return nil
}
