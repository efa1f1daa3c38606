// Package dnr models the declarative-net-request style dynamic filtering
// ruleset: ID-indexed rules with a match condition and a redirect action.
// The rule store and reconciler talk to the ruleset through the Engine
// interface; MemEngine is the in-process implementation.
package dnr

import (
	"context"

	"github.com/haukened/sitewall/internal/block/common/urlnorm"
)

const (
	// PriorityDefault is the fixed priority assigned to every compiled rule.
	PriorityDefault = 100

	// ResourceTypeMainFrame restricts matching to top-level navigations.
	ResourceTypeMainFrame = "main_frame"

	// ActionTypeRedirect is the only action type the compiler emits. Blocked
	// sites redirect to the built-in blocked page so the user always lands
	// on a friendly page instead of a connection error.
	ActionTypeRedirect = "redirect"
)

// Rule is one installed dynamic filtering rule.
type Rule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
}

// Condition selects the requests a rule applies to. URLFilter uses the
// adblock-style "||host/path" anchor syntax.
type Condition struct {
	URLFilter     string   `json:"urlFilter"`
	ResourceTypes []string `json:"resourceTypes"`
}

// Action describes what happens to a matched request.
type Action struct {
	Type     string    `json:"type"`
	Redirect *Redirect `json:"redirect,omitempty"`
}

// Redirect carries the target of a redirect action.
type Redirect struct {
	URL string `json:"url"`
}

// UpdateOptions is one batched mutation of the dynamic ruleset. Removals
// are applied before additions.
type UpdateOptions struct {
	AddRules      []Rule
	RemoveRuleIDs []int
}

// Engine is the dynamic filtering ruleset as seen by the rule store and the
// reconciler. Implementations must apply each UpdateDynamicRules call
// atomically: either the whole batch lands or none of it does.
type Engine interface {
	// DynamicRules returns every currently installed rule.
	DynamicRules(ctx context.Context) ([]Rule, error)

	// UpdateDynamicRules removes RemoveRuleIDs and installs AddRules as one
	// batch. Unknown removal ids are ignored; installing an id that is
	// already present fails the whole batch.
	UpdateDynamicRules(ctx context.Context, opts UpdateOptions) error
}

// Compile maps one rule record's data to a filtering rule draft. The ID is
// left zero; the caller assigns it before installing. Pure, no side effects.
func Compile(blockURL, redirectURL, blockedPageURL string) Rule {
	target := redirectURL
	if target == "" {
		target = blockedPageURL
	}
	return Rule{
		Priority: PriorityDefault,
		Condition: Condition{
			URLFilter:     "||" + urlnorm.HostOnly(blockURL),
			ResourceTypes: []string{ResourceTypeMainFrame},
		},
		Action: Action{
			Type:     ActionTypeRedirect,
			Redirect: &Redirect{URL: target},
		},
	}
}
