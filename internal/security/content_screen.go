package security

import (
	"regexp"
	"strings"
)

// ContentScreen 邮件文本筛查器
//
// 邮件标题和正文会原样展示在网页端和游戏内聊天组件里，
// 注入类片段在入库前直接拒绝。
type ContentScreen struct {
	injectionPatterns []*regexp.Regexp
	blockedWords      []string
}

// NewContentScreen 创建筛查器
func NewContentScreen(blockedWords ...string) *ContentScreen {
	return &ContentScreen{
		injectionPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)<script[^>]*>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)onload\s*=`),
			regexp.MustCompile(`(?i)onerror\s*=`),
			regexp.MustCompile(`(?i)<iframe[^>]*>`),
			// 游戏内 JSON 聊天组件的点击事件
			regexp.MustCompile(`(?i)"clickEvent"\s*:`),
			regexp.MustCompile(`(?i)run_command`),
		},
		blockedWords: blockedWords,
	}
}

// Check 筛查一段文本，拒绝时返回 false 和原因
func (cs *ContentScreen) Check(text string) (bool, string) {
	for _, pattern := range cs.injectionPatterns {
		if pattern.MatchString(text) {
			return false, "injection pattern: " + pattern.String()
		}
	}

	lower := strings.ToLower(text)
	for _, word := range cs.blockedWords {
		if strings.Contains(lower, strings.ToLower(word)) {
			return false, "blocked word: " + word
		}
	}

	return true, ""
}
