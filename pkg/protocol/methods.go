package protocol

// JSON-RPC 2.0 method names served by the /mcp endpoint (internal/httpapi).
const (
	MCPMethodToolsList   = "tools/list"
	MCPMethodToolsCall   = "tools/call"
	MCPMethodServersList = "servers/list"
)

// JSON-RPC 2.0 standard error codes.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)

// HTTP envelope error codes returned in {ok:false, error:{code,message}}.
const (
	ErrUnauthorized      = "ERR_UNAUTHORIZED"
	ErrForbidden         = "ERR_FORBIDDEN"
	ErrInvalidRequest    = "ERR_INVALID_REQUEST"
	ErrNotFound          = "ERR_NOT_FOUND"
	ErrRateLimit         = "ERR_RATE_LIMIT"
	ErrDeviceNotPaired   = "ERR_DEVICE_NOT_PAIRED"
	ErrUnknownTool       = "ERR_UNKNOWN_TOOL"
)

// Slash commands handled by internal/activation before the agentic loop runs.
const (
	CommandNew     = "/new"
	CommandStatus  = "/status"
	CommandHistory = "/history"
	CommandHelp    = "/help"
)
