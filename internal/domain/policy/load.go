package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Tobbiloba/actiongate/internal/domain/constraint"
	"github.com/Tobbiloba/actiongate/internal/domain/quota"
)

// ErrMalformed wraps every failure Load reports. Callers distinguish
// PolicyMalformed from an infrastructure fault with errors.Is(err,
// ErrMalformed).
var ErrMalformed = errors.New("policy malformed")

// Load parses an opaque rule document (as produced by decoding a YAML or
// JSON policy file) into a Policy, failing with ErrMalformed per spec
// section 4.1: negative limits, unknown constraint tags, a pattern that
// does not compile, a default outside {allow, block}, a non-string
// action_type, or rules that aren't a sequence. Unknown top-level fields
// are tolerated for forward compatibility.
func Load(raw map[string]any) (*Policy, error) {
	name, _ := raw["name"].(string)
	version, _ := raw["version"].(string)

	def := EffectAllow
	if defaultRaw, ok := raw["default"]; ok {
		s, ok := defaultRaw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: default must be a string", ErrMalformed)
		}
		switch Effect(s) {
		case EffectAllow, EffectBlock:
			def = Effect(s)
		default:
			return nil, fmt.Errorf("%w: default %q must be \"allow\" or \"block\"", ErrMalformed, s)
		}
	}

	var rawRules []any
	if rulesRaw, ok := raw["rules"]; ok {
		seq, ok := rulesRaw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: rules must be a sequence", ErrMalformed)
		}
		rawRules = seq
	}

	rules := make([]Rule, 0, len(rawRules))
	for i, rr := range rawRules {
		rm, ok := rr.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: rule %d is not an object", ErrMalformed, i)
		}
		rule, err := loadRule(rm, i)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	p := &Policy{Name: name, Version: version, Default: def, Rules: rules}
	p.indexOnce.Do(p.buildIndex)
	return p, nil
}

func loadRule(raw map[string]any, index int) (Rule, error) {
	actionTypeRaw, ok := raw["action_type"]
	if !ok {
		return Rule{}, fmt.Errorf("%w: rule %d missing action_type", ErrMalformed, index)
	}
	actionType, ok := actionTypeRaw.(string)
	if !ok {
		return Rule{}, fmt.Errorf("%w: rule %d action_type must be a string, got %T", ErrMalformed, index, actionTypeRaw)
	}
	if actionType == "" {
		return Rule{}, fmt.Errorf("%w: rule %d action_type must not be empty", ErrMalformed, index)
	}

	effect := EffectAllow
	if effectRaw, ok := raw["effect"]; ok {
		s, ok := effectRaw.(string)
		if !ok {
			return Rule{}, fmt.Errorf("%w: rule %d effect must be a string", ErrMalformed, index)
		}
		switch Effect(s) {
		case EffectAllow, EffectBlock:
			effect = Effect(s)
		default:
			return Rule{}, fmt.Errorf("%w: rule %d effect %q must be \"allow\" or \"block\"", ErrMalformed, index, s)
		}
	}

	constraints, order, err := loadConstraints(raw, index)
	if err != nil {
		return Rule{}, err
	}

	allowedAgents, err := loadAgentSet(raw, "allowed_agents", index)
	if err != nil {
		return Rule{}, err
	}
	blockedAgents, err := loadAgentSet(raw, "blocked_agents", index)
	if err != nil {
		return Rule{}, err
	}

	var rateLimit *quota.RateLimit
	if rlRaw, ok := raw["rate_limit"]; ok {
		rl, err := loadRateLimit(rlRaw, index)
		if err != nil {
			return Rule{}, err
		}
		rateLimit = rl
	}

	var aggregateLimit *quota.AggregateLimit
	if alRaw, ok := raw["aggregate_limit"]; ok {
		al, err := loadAggregateLimit(alRaw, index)
		if err != nil {
			return Rule{}, err
		}
		aggregateLimit = al
	}

	return Rule{
		ActionType:      actionType,
		Effect:          effect,
		Constraints:     constraints,
		AllowedAgents:   allowedAgents,
		BlockedAgents:   blockedAgents,
		RateLimit:       rateLimit,
		AggregateLimit:  aggregateLimit,
		declIndex:       index,
		constraintOrder: order,
	}, nil
}

func loadConstraints(raw map[string]any, index int) (map[string]constraint.Spec, []string, error) {
	constraintsRaw, ok := raw["constraints"]
	if !ok {
		return nil, nil, nil
	}
	cm, ok := constraintsRaw.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: rule %d constraints must be an object", ErrMalformed, index)
	}

	specs := make(map[string]constraint.Spec, len(cm))
	order := make([]string, 0, len(cm))
	for path, specRaw := range cm {
		sm, ok := specRaw.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: rule %d constraint %q must be an object", ErrMalformed, index, path)
		}
		spec, err := constraint.ParseSpec(sm)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: rule %d constraint %q: %v", ErrMalformed, index, path, err)
		}
		specs[path] = spec
		order = append(order, path)
	}
	sort.Strings(order)
	return specs, order, nil
}

func loadAgentSet(raw map[string]any, key string, index int) (map[string]struct{}, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: rule %d %s must be a sequence", ErrMalformed, index, key)
	}
	set := make(map[string]struct{}, len(seq))
	for _, item := range seq {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: rule %d %s entries must be strings", ErrMalformed, index, key)
		}
		set[s] = struct{}{}
	}
	return set, nil
}

func loadRateLimit(raw any, index int) (*quota.RateLimit, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: rule %d rate_limit must be an object", ErrMalformed, index)
	}
	maxRequests, err := positiveInt(m, "max_requests", index, "rate_limit")
	if err != nil {
		return nil, err
	}
	windowSeconds, err := positiveInt(m, "window_seconds", index, "rate_limit")
	if err != nil {
		return nil, err
	}
	return &quota.RateLimit{MaxRequests: maxRequests, WindowSeconds: windowSeconds}, nil
}

func loadAggregateLimit(raw any, index int) (*quota.AggregateLimit, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: rule %d aggregate_limit must be an object", ErrMalformed, index)
	}
	field, ok := m["field"].(string)
	if !ok || field == "" {
		return nil, fmt.Errorf("%w: rule %d aggregate_limit.field must be a non-empty string", ErrMalformed, index)
	}
	maxVal, ok := constraint.AsNumber(m["max"])
	if !ok {
		return nil, fmt.Errorf("%w: rule %d aggregate_limit.max must be numeric", ErrMalformed, index)
	}
	if maxVal < 0 {
		return nil, fmt.Errorf("%w: rule %d aggregate_limit.max must not be negative", ErrMalformed, index)
	}
	windowSeconds, err := positiveInt(m, "window_seconds", index, "aggregate_limit")
	if err != nil {
		return nil, err
	}
	return &quota.AggregateLimit{Field: field, Max: maxVal, WindowSeconds: windowSeconds}, nil
}

func positiveInt(m map[string]any, key string, index int, section string) (int, error) {
	n, ok := constraint.AsNumber(m[key])
	if !ok {
		return 0, fmt.Errorf("%w: rule %d %s.%s must be numeric", ErrMalformed, index, section, key)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: rule %d %s.%s must be a positive integer, got %v", ErrMalformed, index, section, key, n)
	}
	return int(n), nil
}
