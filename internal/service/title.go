// Package service 包含了应用的业务逻辑层。
package service

import (
	"strings"
	"unicode/utf8"
)

// DefaultChatTitle 是新会话与标题推导失败时的兜底标题。
const DefaultChatTitle = "New Chat"

// 标题的最大展示长度（含省略号）。
const maxTitleLength = 75

// 短于该长度的首句会尝试并入第二句，避免标题信息量过低。
const minSentenceLength = 20

// deriveTitle 根据首条用户消息推导会话标题：
// 去掉 markdown 标记，取第一句；首句过短时并入第二句；压缩空白；
// 超长时在词边界截断并追加省略号；结果为空时退回默认标题。
func deriveTitle(content string) string {
	title := strings.NewReplacer("#", "", "*", "", "`", "", "_", "", "~", "").Replace(content)

	sentences := strings.FieldsFunc(title, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	if len(sentences) == 0 {
		return DefaultChatTitle
	}

	title = strings.TrimSpace(sentences[0])
	if utf8.RuneCountInString(title) < minSentenceLength && len(sentences) > 1 {
		title = strings.TrimSpace(sentences[0]) + ". " + strings.TrimSpace(sentences[1])
	}

	title = strings.Join(strings.Fields(title), " ")

	if runes := []rune(title); len(runes) > maxTitleLength {
		truncated := string(runes[:maxTitleLength-3])
		if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
			truncated = truncated[:lastSpace]
		}
		title = truncated + "..."
	}

	if title == "" {
		return DefaultChatTitle
	}
	return title
}
