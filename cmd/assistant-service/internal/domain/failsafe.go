package domain

import "strings"

// FallbackLevel 失败响应的产生层级
type FallbackLevel string

const (
	FallbackNone      FallbackLevel = "none"
	FallbackCached    FallbackLevel = "cached"
	FallbackTemplate  FallbackLevel = "template"
	FallbackEmergency FallbackLevel = "emergency"
)

// FailsafeResponse 失败兜底响应，带层级与置信度标记
type FailsafeResponse struct {
	Response   string        `json:"response"`
	Level      FallbackLevel `json:"level"`
	Confidence float64       `json:"confidence"`
	Category   QueryCategory `json:"category,omitempty"`
}

// QueryCategory 查询类别（模板层）
type QueryCategory string

const (
	QueryCategoryGas         QueryCategory = "gas"
	QueryCategoryBalance     QueryCategory = "balance"
	QueryCategoryTransaction QueryCategory = "transaction"
	QueryCategoryBlock       QueryCategory = "block"
	QueryCategoryContract    QueryCategory = "contract"
	QueryCategoryToken       QueryCategory = "token"
	QueryCategoryAddress     QueryCategory = "address"
	QueryCategoryGeneral     QueryCategory = "general"
)

// queryCategoryRule 类别关键词，按固定顺序检查
type queryCategoryRule struct {
	category QueryCategory
	keywords []string
}

var queryCategoryRules = []queryCategoryRule{
	{QueryCategoryGas, []string{"gas", "fee"}},
	{QueryCategoryBalance, []string{"balance", "wallet"}},
	{QueryCategoryTransaction, []string{"transaction", "tx"}},
	{QueryCategoryBlock, []string{"block"}},
	{QueryCategoryContract, []string{"contract", "abi"}},
	{QueryCategoryToken, []string{"token"}},
	{QueryCategoryAddress, []string{"address"}},
}

// ClassifyQueryCategory 按关键词对原始查询分类
func ClassifyQueryCategory(query string) QueryCategory {
	lower := strings.ToLower(query)
	for _, rule := range queryCategoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return QueryCategoryGeneral
}

// QueryTemplates 类别模板应答（进程启动时填充的只读表）
var QueryTemplates = map[QueryCategory]string{
	QueryCategoryGas:         "Current gas prices fluctuate with network demand. Typical ranges: low priority under 20 gwei, standard 20-50 gwei, fast above 50 gwei. Please retry shortly for live data.",
	QueryCategoryBalance:     "I cannot fetch live balances right now. You can verify any wallet balance directly on a block explorer such as Etherscan by pasting the address.",
	QueryCategoryTransaction: "I cannot look up that transaction at the moment. Paste the transaction hash into a block explorer to see its status, gas used and logs.",
	QueryCategoryBlock:       "Live block data is temporarily unavailable. Block explorers show the latest blocks, their timestamps and included transactions.",
	QueryCategoryContract:    "Contract inspection is temporarily unavailable. Verified contract source and ABI are viewable on a block explorer under the contract tab.",
	QueryCategoryToken:       "Token data is temporarily unavailable. Token supply, holders and transfers are viewable on a block explorer or an aggregator like CoinGecko.",
	QueryCategoryAddress:     "Address lookups are temporarily unavailable. A block explorer will show the address balance, transactions and token holdings.",
	QueryCategoryGeneral:     "I'm having trouble reaching my data sources right now. Please try again in a moment, or rephrase your question.",
}

// ErrorCategory 触发错误类别（紧急层）
type ErrorCategory string

const (
	ErrorCategoryTimeout   ErrorCategory = "timeout"
	ErrorCategoryRateLimit ErrorCategory = "rate_limit"
	ErrorCategoryNetwork   ErrorCategory = "network"
	ErrorCategoryAuth      ErrorCategory = "auth"
	ErrorCategoryGeneral   ErrorCategory = "general"
)

// ClassifyError 按错误消息子串归类触发错误
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryGeneral
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrorCategoryTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return ErrorCategoryRateLimit
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection") || strings.Contains(msg, "dial"):
		return ErrorCategoryNetwork
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "api key") || strings.Contains(msg, "auth"):
		return ErrorCategoryAuth
	default:
		return ErrorCategoryGeneral
	}
}

// EmergencyMessages 紧急层固定应答（进程启动时填充的只读表）
var EmergencyMessages = map[ErrorCategory]string{
	ErrorCategoryTimeout:   "The request took too long to process. The network may be congested - please try again.",
	ErrorCategoryRateLimit: "I'm receiving too many requests right now. Please wait a moment before trying again.",
	ErrorCategoryNetwork:   "I'm having trouble connecting to upstream services. Please check back shortly.",
	ErrorCategoryAuth:      "There is a service authorization problem on our side. The operator has been notified.",
	ErrorCategoryGeneral:   "Something went wrong while processing your request. Please try again in a moment.",
}
