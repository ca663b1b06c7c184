// Package security はクレデンシャルの暗号化、利用者入力の無害化、
// 外部プロバイダーへの通信の安全性確保を提供する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はカレンダー名や説明文など、外部プロバイダーへ送るプレーンテキストを無害化する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、制御文字を取り除いたテキストを返す。
	Sanitize(input string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerの実装。
// ポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// StrictPolicyは&などをエスケープするため、最後にアンエスケープして元の文字に戻す。
func (s *textSanitizer) Sanitize(input string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(input))
	stripped = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
	return strings.TrimSpace(stripped)
}
