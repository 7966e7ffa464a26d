package logging

// AuditEvent records a user-visible on-chain action
type AuditEvent struct {
	Operation string // e.g. "token_approved", "stake_deposited", "referral_tracked"
	Actor     string // wallet address
	Target    string // token or contract address
	Result    string // "success" or "failure"
	Details   string
}

// Audit logs an on-chain action at Info level with an "audit" marker so
// these records can be filtered from regular application logs.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"actor", event.Actor,
		"target", event.Target,
		"result", event.Result,
		"details", event.Details,
	)
}
