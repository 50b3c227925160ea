//go:build !cgo || !PADDLE

package capi

// Native reports ErrNativeDisabled: this binary was built without the Paddle engine.
func Native() (Engine, error) {
	return nil, ErrNativeDisabled
}
