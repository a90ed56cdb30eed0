// Package policy evaluates per-provider acceptance rules before a
// transaction is sent to a gateway. Rules are govaluate expressions over the
// transaction parameters; every configured rule must evaluate to true for
// the authorization to proceed.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/payment-gateway/internal/amount"
)

// Rule is one named acceptance expression, e.g.
// "amount <= 500000000 && currency == 'IRR'".
type Rule struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool
	// Rule names the first rule that denied the transaction, when Allowed
	// is false.
	Rule string
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// Enforcer holds the compiled rule set, keyed by provider code. Providers
// without rules are always allowed.
type Enforcer struct {
	rules map[string][]compiledRule
}

// NewEnforcer compiles the rule set. A malformed expression fails
// construction rather than every request.
func NewEnforcer(rules map[string][]Rule) (*Enforcer, error) {
	compiled := make(map[string][]compiledRule, len(rules))
	for providerName, providerRules := range rules {
		for _, r := range providerRules {
			expr, err := govaluate.NewEvaluableExpression(r.Expression)
			if err != nil {
				return nil, fmt.Errorf("policy: rule %q for provider %s: %w", r.Name, providerName, err)
			}
			compiled[providerName] = append(compiled[providerName], compiledRule{name: r.Name, expr: expr})
		}
	}
	return &Enforcer{rules: compiled}, nil
}

// Evaluate runs the provider's rules against the transaction parameters.
func (e *Enforcer) Evaluate(providerName string, amt amount.Amount) (Decision, error) {
	params := map[string]any{
		"provider": providerName,
		"amount":   amt.Total().InexactFloat64(),
		"currency": amt.Currency(),
	}
	for _, rule := range e.rules[providerName] {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			return Decision{}, fmt.Errorf("policy: evaluating rule %q: %w", rule.name, err)
		}
		ok, isBool := result.(bool)
		if !isBool {
			return Decision{}, fmt.Errorf("policy: rule %q did not evaluate to a boolean", rule.name)
		}
		if !ok {
			return Decision{Allowed: false, Rule: rule.name}, nil
		}
	}
	return Decision{Allowed: true}, nil
}
