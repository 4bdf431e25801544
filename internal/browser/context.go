package browser

import "context"

// CombineContext returns a context derived from primary (keeping its values,
// which carry the CDP target) that is also cancelled when op is done.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
