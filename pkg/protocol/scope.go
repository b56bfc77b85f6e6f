package protocol

// SecurityLevel is the sensitivity class declared on a ToolDefinition.
type SecurityLevel string

const (
	SecurityRead  SecurityLevel = "read"
	SecurityWrite SecurityLevel = "write"
	SecuritySign  SecurityLevel = "sign"
)

// Tier is the coarser classification a device Scope is checked against.
// Read tools require no bit at all; write and sign map onto the two
// tiered bits a device's Scope carries.
type Tier string

const (
	TierNone  Tier = "none"
	TierWrite Tier = "tier3"
	TierSign  Tier = "tier1"
)

// TierFor maps a tool's declared security level to the scope tier checked
// at the HTTP boundary (internal/httpapi) and by the policy engine
// (internal/tools).
func TierFor(level SecurityLevel) Tier {
	switch level {
	case SecurityWrite:
		return TierWrite
	case SecuritySign:
		return TierSign
	default:
		return TierNone
	}
}
