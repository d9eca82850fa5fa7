package authcore

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authcore/internal"
)

// DeviceContext is the client identity derived once per request and passed
// explicitly to every operation that rate limits, audits or stores tokens.
type DeviceContext struct {
	IP        string
	UserAgent string
}

// DeviceFromRequest extracts the client IP (X-Forwarded-For first hop,
// X-Real-IP, then RemoteAddr) and the User-Agent of r.
func DeviceFromRequest(r *http.Request) DeviceContext {
	if r == nil {
		return DeviceContext{}
	}
	return DeviceContext{
		IP:        internal.ClientIP(r),
		UserAgent: internal.UserAgent(r),
	}
}

type deviceContextKey struct{}

// WithDevice attaches d to ctx for code paths that only receive a context.
func WithDevice(ctx context.Context, d DeviceContext) context.Context {
	return context.WithValue(ctx, deviceContextKey{}, d)
}

// DeviceFromContext returns the DeviceContext stored by WithDevice.
func DeviceFromContext(ctx context.Context) DeviceContext {
	if ctx == nil {
		return DeviceContext{}
	}
	d, _ := ctx.Value(deviceContextKey{}).(DeviceContext)
	return d
}
