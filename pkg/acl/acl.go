// Package acl implements proxd's connection access policy.
//
// Rules are boolean expressions over the incoming request (ip, host, port,
// method, path), compiled once at load time with expr-lang/expr. The rule list is
// ordered and first match wins; requests matching no rule get the policy's
// default action.
package acl

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/getproxd/proxd/pkg/logging"
)

// Action is what a matching rule does with the connection.
type Action string

// Rule actions.
const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Rule is one policy entry: a boolean expression and the action taken when
// it evaluates to true.
type Rule struct {
	When   string
	Action Action
}

// Request is the environment a rule is evaluated against. Port is the
// destination port, which for CONNECT requests is the interesting part of
// the target.
type Request struct {
	IP     string
	Host   string
	Port   string
	Method string
	Path   string
}

type compiledRule struct {
	source  string
	action  Action
	program *vm.Program
}

// Policy is an ordered, immutable set of compiled rules.
type Policy struct {
	rules         []compiledRule
	defaultAction Action
	log           *slog.Logger
}

// exprEnv builds the evaluation environment for a request. The same shape is
// used at compile time so expressions are type-checked at load.
func exprEnv(req Request) map[string]string {
	return map[string]string{
		"ip":     req.IP,
		"host":   req.Host,
		"port":   req.Port,
		"method": req.Method,
		"path":   req.Path,
	}
}

// New compiles the rules into a Policy. A rule that does not compile, or
// names an unknown action, fails the whole load; a policy with a broken rule
// silently dropped would not be the policy the operator wrote.
func New(rules []Rule, defaultAction Action, log *slog.Logger) (*Policy, error) {
	if defaultAction == "" {
		defaultAction = ActionAllow
	}
	if defaultAction != ActionAllow && defaultAction != ActionDeny {
		return nil, fmt.Errorf("invalid default action %q", defaultAction)
	}
	if log == nil {
		log = logging.Nop()
	}

	p := &Policy{defaultAction: defaultAction, log: log}
	env := exprEnv(Request{})
	for i, r := range rules {
		if r.Action != ActionAllow && r.Action != ActionDeny {
			return nil, fmt.Errorf("rule %d: invalid action %q", i, r.Action)
		}
		program, err := expr.Compile(r.When, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, r.When, err)
		}
		p.rules = append(p.rules, compiledRule{source: r.When, action: r.Action, program: program})
	}
	return p, nil
}

// Allow reports whether the request may proceed. Evaluation walks the rules
// in order and the first rule that evaluates to true decides. A rule whose
// evaluation errors is skipped and logged.
func (p *Policy) Allow(req Request) bool {
	env := exprEnv(req)
	for _, r := range p.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			p.log.Warn("acl rule evaluation failed, skipping rule",
				"rule", r.source, "error", err)
			continue
		}
		matched, ok := out.(bool)
		if !ok {
			p.log.Warn("acl rule did not yield a boolean, skipping rule",
				"rule", r.source)
			continue
		}
		if matched {
			return r.action == ActionAllow
		}
	}
	return p.defaultAction == ActionAllow
}

// Len returns the number of compiled rules.
func (p *Policy) Len() int {
	return len(p.rules)
}
