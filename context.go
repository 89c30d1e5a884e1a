package authcore

import "context"

type contextKey int

const (
	ctxKeyClientIP contextKey = iota
	ctxKeyUserAgent
	ctxKeyDevice
)

// WithClientIP attaches the caller's IP for rate limiting and audit context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ClientIP returns the attached client IP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

// WithUserAgent attaches the caller's user agent for session metadata.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// UserAgent returns the attached user agent, or "".
func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(ctxKeyUserAgent).(string)
	return ua
}

// WithDevice attaches a self-reported device label for session listings.
func WithDevice(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, ctxKeyDevice, label)
}

// Device returns the attached device label, or "".
func Device(ctx context.Context) string {
	label, _ := ctx.Value(ctxKeyDevice).(string)
	return label
}
