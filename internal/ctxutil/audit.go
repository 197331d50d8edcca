package ctxutil

// AuditMeta carries the request metadata needed to build a model.AuditLog
// entry. It lives in ctxutil so both server and mcp packages can populate it
// without circular imports.
type AuditMeta struct {
	RequestID  string
	Actor      string
	ActorRole  string
	HTTPMethod string
	Endpoint   string
}
