package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims: права оператора дашборда, выданные внешним IdP.
type OperatorClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "monitors.write": true, "rules.write": true
	jwt.RegisteredClaims
}

const (
	ScopeMonitorsWrite  = "monitors.write"
	ScopeRulesWrite     = "rules.write"
	ScopeDecisionsWrite = "decisions.write"
	ScopeAdmin          = "admin"
)

// HasScope: admin неявно включает все права.
func (c *OperatorClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}
