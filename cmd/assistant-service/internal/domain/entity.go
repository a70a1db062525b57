package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// addressPattern 链上地址模式：0x + 40 位十六进制
var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// ExtractAddresses 从文本中提取地址，保持出现顺序并去重
func ExtractAddresses(text string) []string {
	matches := addressPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ReplaceAddresses 把文本中的所有链上地址替换为占位符
func ReplaceAddresses(text, placeholder string) string {
	return addressPattern.ReplaceAllString(text, placeholder)
}

// NextAlias 生成某一类实体的下一个顺序别名（addrN / tokenN）
// EntityRefs 为追加写映射，按类计数即可保证编号稳定
func NextAlias(refs map[string]string, class string) string {
	n := 1
	for _, alias := range refs {
		if strings.HasPrefix(alias, class) {
			n++
		}
	}
	return fmt.Sprintf("%s%d", class, n)
}
