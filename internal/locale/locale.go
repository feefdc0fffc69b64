// Package locale は en / zh_hk / zh_cn の文言を選択するための小さなヘルパーです。
// 文言の管理自体は呼び出し側が Variants として保持します。
package locale

import (
	"strings"

	"golang.org/x/text/language"
)

// Locale はサポートする言語の識別子です。
type Locale string

const (
	En   Locale = "en"
	ZhHK Locale = "zh_hk"
	ZhCN Locale = "zh_cn"
)

// Default は一致する言語が無い場合に使う言語です。
const Default = En

// Variants は1つの文言の言語別バリエーションです。
type Variants struct {
	En   string
	ZhHK string
	ZhCN string
}

var (
	supported = []Locale{En, ZhHK, ZhCN}
	matcher   = language.NewMatcher([]language.Tag{
		language.English,
		language.MustParse("zh-HK"),
		language.MustParse("zh-CN"),
	})
)

// Pick は指定された言語の文言を返します。空の場合は英語にフォールバックします。
func Pick(v Variants, l Locale) string {
	var s string
	switch l {
	case ZhHK:
		s = v.ZhHK
	case ZhCN:
		s = v.ZhCN
	default:
		s = v.En
	}
	if s == "" {
		return v.En
	}
	return s
}

// Match は Accept-Language ヘッダー（または LANG のような単一タグ）から最も近い言語を選びます。
func Match(acceptLanguage string) Locale {
	if l, ok := Parse(acceptLanguage); ok {
		return l
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return Default
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Default
	}
	return supported[idx]
}

// Parse は "zh_hk" のような識別子をそのまま解釈します。
func Parse(s string) (Locale, bool) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, l := range supported {
		if normalized == string(l) {
			return l, true
		}
	}
	return "", false
}
