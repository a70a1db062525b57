package domain

// Personality 应答风格描述
type Personality struct {
	ID    string
	Name  string
	Style string
}

// personalities 人格注册表（进程启动时填充的只读表）
var personalities = map[string]Personality{
	"analyst": {ID: "analyst", Name: "On-chain Analyst", Style: "precise, data-first, cites figures"},
	"trader":  {ID: "trader", Name: "Trader", Style: "terse, focused on price and execution"},
	"mentor":  {ID: "mentor", Name: "Mentor", Style: "explanatory, walks through concepts step by step"},
	"default": {ID: "default", Name: "Assistant", Style: "concise and helpful"},
}

// PersonalityByID 查询人格，未知 ID 回退到 default
func PersonalityByID(id string) Personality {
	if p, ok := personalities[id]; ok {
		return p
	}
	return personalities["default"]
}
