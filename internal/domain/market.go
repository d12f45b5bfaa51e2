package domain

import "strings"

// 默认支持的标的（永续/现货的基础币种）。
var supportedSymbols = map[string]struct{}{
	"BTC":  {},
	"ETH":  {},
	"SOL":  {},
	"BNB":  {},
	"XRP":  {},
	"DOGE": {},
	"AVAX": {},
	"LINK": {},
	"HYPE": {},
}

// NormalizeSymbol 统一为大写，并去掉常见的计价后缀（ETH-USD / ETHUSDT / ETH-PERP -> ETH）。
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range []string{"-PERP", "-USDC", "-USDT", "-USD", "USDT", "USDC"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return strings.TrimSuffix(s, suffix)
		}
	}
	return s
}

// IsSupportedSymbol 检查 symbol 是否受支持；extra 为配置中追加的白名单。
func IsSupportedSymbol(symbol string, extra ...string) bool {
	s := NormalizeSymbol(symbol)
	if s == "" {
		return false
	}
	if _, ok := supportedSymbols[s]; ok {
		return true
	}
	for _, e := range extra {
		if NormalizeSymbol(e) == s {
			return true
		}
	}
	return false
}
