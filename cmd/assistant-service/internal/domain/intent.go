package domain

import "strings"

// Intent 会话意图分类
type Intent string

const (
	IntentGasAnalysis         Intent = "gas_analysis"
	IntentBalanceCheck        Intent = "balance_check"
	IntentTransactionAnalysis Intent = "transaction_analysis"
	IntentTokenAnalysis       Intent = "token_analysis"
	IntentDefiAnalysis        Intent = "defi_analysis"
	IntentContractAnalysis    Intent = "contract_analysis"
	IntentGeneralQuery        Intent = "general_query"
)

// intentRule 关键词意图规则
type intentRule struct {
	intent   Intent
	keywords []string
}

// intentRules 规则按固定顺序检查，首个命中者生效
var intentRules = []intentRule{
	{IntentGasAnalysis, []string{"gas", "fee"}},
	{IntentBalanceCheck, []string{"balance"}},
	{IntentTransactionAnalysis, []string{"transaction", "tx"}},
	{IntentTokenAnalysis, []string{"token"}},
	{IntentDefiAnalysis, []string{"defi", "liquidity"}},
	{IntentContractAnalysis, []string{"contract"}},
}

// ClassifyQuery 基于关键词的意图分类，无命中时回退到 general_query
func ClassifyQuery(text string) Intent {
	lower := strings.ToLower(text)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent
			}
		}
	}
	return IntentGeneralQuery
}

// ToolIntentHint 工具到意图的映射，用于工具驱动的意图再分类
// 返回空字符串表示该工具不携带意图信号
func ToolIntentHint(tool string) Intent {
	return toolIntentHints[tool]
}

var toolIntentHints = map[string]Intent{
	"get_gas_price":           IntentGasAnalysis,
	"estimate_gas":            IntentGasAnalysis,
	"get_fee_history":         IntentGasAnalysis,
	"get_balance":             IntentBalanceCheck,
	"get_token_balance":       IntentBalanceCheck,
	"get_transaction":         IntentTransactionAnalysis,
	"get_transaction_receipt": IntentTransactionAnalysis,
	"trace_transaction":       IntentTransactionAnalysis,
	"get_token_info":          IntentTokenAnalysis,
	"get_token_price":         IntentTokenAnalysis,
	"get_token_holders":       IntentTokenAnalysis,
	"get_defi_positions":      IntentDefiAnalysis,
	"get_liquidity_pools":     IntentDefiAnalysis,
	"get_protocol_tvl":        IntentDefiAnalysis,
	"get_contract_abi":        IntentContractAnalysis,
	"get_contract_code":       IntentContractAnalysis,
	"read_contract":           IntentContractAnalysis,
}

// IntentToolset 意图对应的工具集
func IntentToolset(intent Intent) []string {
	return intentToolsets[intent]
}

var intentToolsets = map[Intent][]string{
	IntentGasAnalysis:         {"get_gas_price", "estimate_gas", "get_fee_history"},
	IntentBalanceCheck:        {"get_balance", "get_token_balance"},
	IntentTransactionAnalysis: {"get_transaction", "get_transaction_receipt", "trace_transaction"},
	IntentTokenAnalysis:       {"get_token_info", "get_token_price", "get_token_holders"},
	IntentDefiAnalysis:        {"get_defi_positions", "get_liquidity_pools", "get_protocol_tvl"},
	IntentContractAnalysis:    {"get_contract_abi", "get_contract_code", "read_contract"},
	IntentGeneralQuery:        {"get_block", "resolve_ens"},
}

// 工具子集装配用的固定集合
var (
	// CoreTools 任意会话都保留的核心工具
	CoreTools = []string{"get_balance", "get_gas_price", "get_transaction"}

	// DiversityTools 工具数不足时补充的多样性集合
	DiversityTools = []string{"get_token_price", "get_block", "resolve_ens", "get_contract_abi", "get_protocol_tvl"}

	// AddressTools 存在活跃地址时追加的工具
	AddressTools = []string{"get_balance", "get_transaction_history"}

	// TokenTools 存在活跃代币时追加的工具
	TokenTools = []string{"get_token_info", "get_token_price"}

	// TransactionTools 存在活跃交易时追加的工具
	TransactionTools = []string{"get_transaction", "get_transaction_receipt"}
)

// 工具子集容量：常规上限 15；不足 8 时并入多样性集合并收紧到 12
const (
	MaxRelevantTools       = 15
	MinRelevantTools       = 8
	MaxToolsWithDiversity  = 12
	RecentToolLookbackTurn = 3
)
