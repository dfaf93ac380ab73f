package kit

import "context"

type contextKey string

const (
	TransportKey  contextKey = "kit_transport" // "http", "mcp", "mcp_quic"
	RequestIDKey  contextKey = "kit_request_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
	SessionIDKey  contextKey = "kit_session_id"
)

// Caller identifies who triggered an operation: an API client asking for an
// on-demand scan, or a trust-list edit over MCP.
type Caller struct {
	Transport  string
	RequestID  string
	SessionID  string
	RemoteAddr string
}

// CallerFrom collects the caller attributes set on ctx.
func CallerFrom(ctx context.Context) Caller {
	return Caller{
		Transport:  GetTransport(ctx),
		RequestID:  GetRequestID(ctx),
		SessionID:  GetSessionID(ctx),
		RemoteAddr: GetRemoteAddr(ctx),
	}
}

// LogAttrs returns c as slog key/value pairs, skipping empty fields.
func (c Caller) LogAttrs() []any {
	attrs := []any{"transport", c.Transport}
	for _, kv := range [...][2]string{
		{"request_id", c.RequestID},
		{"session_id", c.SessionID},
		{"remote_addr", c.RemoteAddr},
	} {
		if kv[1] != "" {
			attrs = append(attrs, kv[0], kv[1])
		}
	}
	return attrs
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}
