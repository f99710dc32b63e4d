// Package execctx defines the execution context (§3): the mutable
// per-request substitution environment a pattern's {var} templates
// resolve against, plus the step outputs accumulated as a pattern runs.
package execctx

import "time"

// Context is created fresh for one request and discarded when the
// pattern execution that owns it completes.
type Context struct {
	UserInput        string
	PortfolioID      string
	AsOfDate         time.Time
	PricingPackID    string
	LedgerCommitHash string

	// StepOutputs maps a step (or declared output) name to its result.
	// Mutated only by the executor, strictly in step order.
	StepOutputs map[string]any
}

// New builds a Context with an initialized StepOutputs map.
func New(userInput, portfolioID string, asOf time.Time, pricingPackID, ledgerCommitHash string) *Context {
	return &Context{
		UserInput:        userInput,
		PortfolioID:      portfolioID,
		AsOfDate:         asOf,
		PricingPackID:    pricingPackID,
		LedgerCommitHash: ledgerCommitHash,
		StepOutputs:      make(map[string]any),
	}
}

// Field looks up one of the context's own fields by name, for {var}
// resolution against fields other than step outputs. ok is false for
// any name that isn't a recognized context field.
func (c *Context) Field(name string) (any, bool) {
	switch name {
	case "user_input":
		return c.UserInput, true
	case "portfolio_id":
		return c.PortfolioID, true
	case "as_of_date":
		return c.AsOfDate.Format("2006-01-02"), true
	case "pricing_pack_id":
		return c.PricingPackID, true
	case "ledger_commit_hash":
		return c.LedgerCommitHash, true
	default:
		return nil, false
	}
}

// KnownFields lists the context field names the pattern loader accepts
// as valid top-level {var} references (as opposed to {step.field}).
func KnownFields() []string {
	return []string{"user_input", "portfolio_id", "as_of_date", "pricing_pack_id", "ledger_commit_hash"}
}
