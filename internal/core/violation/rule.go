package violation

// 违章类别
const (
	CategoryNoHelmet       = "no_helmet"
	CategoryNutshellHelmet = "nutshell_helmet"
	CategoryDoubleRider    = "double_rider"
)

// Rule 一个类别一条规则，按顺序匹配，先匹配先生效
type Rule struct {
	Category      string  `json:"category"`
	MinConfidence float64 `json:"min_confidence"`
}

// Match 类别相同且置信度不低于阈值
func (r Rule) Match(d *Detection) bool {
	return d.Category == r.Category && d.Confidence >= r.MinConfidence
}

// DefaultRules 默认启用的规则
// 双人骑行 (0.7) 需显式配置
func DefaultRules() []Rule {
	return []Rule{
		{Category: CategoryNoHelmet, MinConfidence: 0.6},
		{Category: CategoryNutshellHelmet, MinConfidence: 0.6},
	}
}

// DoubleRiderRule 可选规则
func DoubleRiderRule() Rule {
	return Rule{Category: CategoryDoubleRider, MinConfidence: 0.7}
}

func matchRule(rules []Rule, d *Detection) (Rule, bool) {
	for _, r := range rules {
		if r.Match(d) {
			return r, true
		}
	}
	return Rule{}, false
}
