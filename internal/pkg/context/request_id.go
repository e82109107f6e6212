package context

import "context"

type requestIDKey struct{}
type viewerIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func GetRequestID(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// WithViewerID stores the authenticated viewer id forwarded by the gateway.
func WithViewerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, viewerIDKey{}, id)
}

func GetViewerID(ctx context.Context) string {
	if s, ok := ctx.Value(viewerIDKey{}).(string); ok {
		return s
	}
	return ""
}
