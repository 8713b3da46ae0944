package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"fleetwatch/internal/models"
)

// ErrConfig marks malformed rule definitions. The engine skips such rules
// for the tick instead of failing it.
var ErrConfig = errors.New("invalid rule configuration")

// Comparison operators shared by threshold, multi and window rules.
const (
	OpGT  = "GT"
	OpGTE = "GTE"
	OpLT  = "LT"
	OpLTE = "LTE"
	OpEQ  = "EQ"
	OpNEQ = "NEQ"
)

var validOperators = map[string]bool{
	OpGT: true, OpGTE: true, OpLT: true, OpLTE: true, OpEQ: true, OpNEQ: true,
}

// Aggregations supported by window rules.
var validAggregations = map[string]bool{
	"avg": true, "min": true, "max": true, "sum": true, "count": true,
}

// Match modes for multi rules.
const (
	MatchAll = "all"
	MatchAny = "any"
)

// ThresholdSpec 简单阈值规则
type ThresholdSpec struct {
	Metric    string  `json:"metric"`
	Operator  string  `json:"operator"`
	Threshold float64 `json:"threshold"`
}

// ConditionSpec is one clause of a multi rule. A clause with its own
// DurationMinutes only contributes once it has been sustained that long.
type ConditionSpec struct {
	Metric          string  `json:"metric"`
	Operator        string  `json:"operator"`
	Threshold       float64 `json:"threshold"`
	DurationMinutes int     `json:"duration_minutes"`
}

// MultiSpec 多条件组合规则
type MultiSpec struct {
	Conditions []ConditionSpec `json:"conditions"`
	MatchMode  string          `json:"match_mode"` // all, any
}

// AnomalySpec 统计异常规则（滚动均值/标准差 z 分数）
type AnomalySpec struct {
	Metric        string  `json:"metric"`
	WindowMinutes int     `json:"window_minutes"`
	ZThreshold    float64 `json:"z_threshold"`
	MinSamples    int     `json:"min_samples"`
}

// GapSpec 数据缺失规则
type GapSpec struct {
	Metric     string `json:"metric"`
	GapMinutes int    `json:"gap_minutes"`
}

// WindowSpec 窗口聚合规则
type WindowSpec struct {
	Metric        string  `json:"metric"`
	Aggregation   string  `json:"aggregation"` // avg, min, max, sum, count
	WindowSeconds int     `json:"window_seconds"`
	Operator      string  `json:"operator"`
	Threshold     float64 `json:"threshold"`
}

// Spec is the decoded variant payload of a rule. Exactly one field is
// non-nil, matching the rule's type.
type Spec struct {
	Threshold *ThresholdSpec
	Multi     *MultiSpec
	Anomaly   *AnomalySpec
	Gap       *GapSpec
	Window    *WindowSpec
}

// Rule is a stored rule with its variant payload and scoping decoded.
type Rule struct {
	models.AlertRule
	Spec    Spec
	SiteIDs []string
}

// Decode parses and validates a stored rule. All validation happens here,
// at the store boundary; evaluators receive only well-formed variants.
func Decode(m *models.AlertRule) (*Rule, error) {
	r := &Rule{AlertRule: *m}

	if m.DurationMinutes != nil && *m.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: rule %s: negative duration_minutes", ErrConfig, m.ID)
	}
	if m.Severity < 1 || m.Severity > 5 {
		return nil, fmt.Errorf("%w: rule %s: severity must be 1-5, got %d", ErrConfig, m.ID, m.Severity)
	}
	if m.SiteIDs != "" {
		if err := json.Unmarshal([]byte(m.SiteIDs), &r.SiteIDs); err != nil {
			return nil, fmt.Errorf("%w: rule %s: bad site_ids: %v", ErrConfig, m.ID, err)
		}
	}

	switch m.RuleType {
	case models.RuleTypeThreshold:
		var spec ThresholdSpec
		if err := decodeParams(m, &spec); err != nil {
			return nil, err
		}
		if spec.Metric == "" {
			return nil, fmt.Errorf("%w: rule %s: missing metric", ErrConfig, m.ID)
		}
		if !validOperators[spec.Operator] {
			return nil, fmt.Errorf("%w: rule %s: unknown operator %q", ErrConfig, m.ID, spec.Operator)
		}
		r.Spec.Threshold = &spec

	case models.RuleTypeMulti:
		var spec MultiSpec
		if err := decodeParams(m, &spec); err != nil {
			return nil, err
		}
		if len(spec.Conditions) == 0 {
			return nil, fmt.Errorf("%w: rule %s: multi rule needs at least one condition", ErrConfig, m.ID)
		}
		if spec.MatchMode != MatchAll && spec.MatchMode != MatchAny {
			return nil, fmt.Errorf("%w: rule %s: match_mode must be all or any", ErrConfig, m.ID)
		}
		for i, c := range spec.Conditions {
			if c.Metric == "" {
				return nil, fmt.Errorf("%w: rule %s: condition %d missing metric", ErrConfig, m.ID, i)
			}
			if !validOperators[c.Operator] {
				return nil, fmt.Errorf("%w: rule %s: condition %d unknown operator %q", ErrConfig, m.ID, i, c.Operator)
			}
			if c.DurationMinutes < 0 {
				return nil, fmt.Errorf("%w: rule %s: condition %d negative duration", ErrConfig, m.ID, i)
			}
		}
		r.Spec.Multi = &spec

	case models.RuleTypeAnomaly:
		var spec AnomalySpec
		if err := decodeParams(m, &spec); err != nil {
			return nil, err
		}
		if spec.Metric == "" {
			return nil, fmt.Errorf("%w: rule %s: missing metric", ErrConfig, m.ID)
		}
		if spec.WindowMinutes < 1 {
			return nil, fmt.Errorf("%w: rule %s: window_minutes must be positive", ErrConfig, m.ID)
		}
		if spec.ZThreshold < 1 {
			return nil, fmt.Errorf("%w: rule %s: z_threshold must be >= 1", ErrConfig, m.ID)
		}
		if spec.MinSamples < 3 {
			return nil, fmt.Errorf("%w: rule %s: min_samples must be >= 3", ErrConfig, m.ID)
		}
		r.Spec.Anomaly = &spec

	case models.RuleTypeGap:
		var spec GapSpec
		if err := decodeParams(m, &spec); err != nil {
			return nil, err
		}
		if spec.Metric == "" {
			return nil, fmt.Errorf("%w: rule %s: missing metric", ErrConfig, m.ID)
		}
		if spec.GapMinutes < 1 {
			return nil, fmt.Errorf("%w: rule %s: gap_minutes must be positive", ErrConfig, m.ID)
		}
		r.Spec.Gap = &spec

	case models.RuleTypeWindow:
		var spec WindowSpec
		if err := decodeParams(m, &spec); err != nil {
			return nil, err
		}
		if spec.Metric == "" {
			return nil, fmt.Errorf("%w: rule %s: missing metric", ErrConfig, m.ID)
		}
		if !validAggregations[spec.Aggregation] {
			return nil, fmt.Errorf("%w: rule %s: unknown aggregation %q", ErrConfig, m.ID, spec.Aggregation)
		}
		if spec.WindowSeconds < 1 {
			return nil, fmt.Errorf("%w: rule %s: window_seconds must be positive", ErrConfig, m.ID)
		}
		if !validOperators[spec.Operator] {
			return nil, fmt.Errorf("%w: rule %s: unknown operator %q", ErrConfig, m.ID, spec.Operator)
		}
		r.Spec.Window = &spec

	default:
		return nil, fmt.Errorf("%w: rule %s: unknown rule type %q", ErrConfig, m.ID, m.RuleType)
	}

	return r, nil
}

func decodeParams(m *models.AlertRule, dest interface{}) error {
	if m.Params == "" {
		return fmt.Errorf("%w: rule %s: empty params", ErrConfig, m.ID)
	}
	if err := json.Unmarshal([]byte(m.Params), dest); err != nil {
		return fmt.Errorf("%w: rule %s: bad params: %v", ErrConfig, m.ID, err)
	}
	return nil
}

// Duration returns the rule-level sustain requirement in minutes.
func (r *Rule) Duration() int {
	if r.DurationMinutes == nil {
		return 0
	}
	return *r.DurationMinutes
}
