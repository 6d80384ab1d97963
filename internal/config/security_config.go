package config

type SecurityLevel int

const (
	SecurityPublic   SecurityLevel = iota // No authentication
	SecuritySigned                        // Gateway HMAC signature required
	SecurityOperator                      // Operator bearer token required
)

// RouteSecurityConfig maps named HTTP routes to their required security level
var RouteSecurityConfig = map[string]SecurityLevel{
	"health":  SecurityPublic,
	"metrics": SecurityPublic,

	// Gateway callbacks carry an HMAC signature instead of a token
	"gateway-webhook": SecuritySigned,
	"payment-verify":  SecuritySigned,

	// Operator surface
	"admin-list-sagas":          SecurityOperator,
	"admin-get-saga":            SecurityOperator,
	"admin-resolve-saga":        SecurityOperator,
	"admin-compensate-saga":     SecurityOperator,
	"admin-resume-saga":         SecurityOperator,
	"admin-account-integrity":   SecurityOperator,
	"admin-platform-integrity":  SecurityOperator,
	"admin-refund":              SecurityOperator,
	"admin-fail-payment":        SecurityOperator,
}

// GetRouteSecurityLevel returns the security level for a route name.
// Unknown routes default to operator-only.
func GetRouteSecurityLevel(routeName string) SecurityLevel {
	if level, ok := RouteSecurityConfig[routeName]; ok {
		return level
	}
	return SecurityOperator
}
