package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP fields.

// RequestID attaches the request id.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method attaches the HTTP method.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path attaches the request path.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status attaches the HTTP status code.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration attaches the request duration.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// ClientIP attaches the client IP.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// Domain fields.

// PrincipalID attaches the internal account identifier owning a credential.
func PrincipalID(v string) zap.Field {
	return zap.String("principal_id", v)
}

// Provider attaches the mail provider tag (google, microsoft).
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// Email attaches the provider-side account email. Informational only.
func Email(v string) zap.Field {
	return zap.String("email", v)
}

// ConnectionStatus attaches the lifecycle status of a credential.
func ConnectionStatus(v string) zap.Field {
	return zap.String("connection_status", v)
}

// System fields.

// Component attaches the component/module name.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op attaches the current operation name.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer attaches the layer (handler, engine, store, provider).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err attaches an error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Generic fields.

// String builds a generic string field.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int builds a generic int field.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool builds a generic bool field.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// Any builds a generic field of any type.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
