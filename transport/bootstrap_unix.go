//go:build !windows

package transport

// bootstrap performs the one-time platform networking initialization. On
// Unix there is none; the function exists so callers don't need a
// platform switch of their own.
func bootstrap() error {
	return nil
}
