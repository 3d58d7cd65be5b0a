package constants

type ContextKey string

const (
	AppKey      ContextKey = "app"
	PoolKey     ContextKey = "pool"
	TxKey       ContextKey = "tx"
	TenantIDKey ContextKey = "tenantID"
	ActorIDKey  ContextKey = "actorID"
	LoggerKey   ContextKey = "logger"
	ParamsKey   ContextKey = "params"
	RequestIDK  ContextKey = "requestID"
)
