//go:build !linux

package worker

// ExitWithParent is a no-op outside Linux. The worker still exits when the
// request pipe reaches EOF.
func ExitWithParent() error {
	return nil
}
