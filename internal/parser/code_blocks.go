package parser

import (
	"regexp"
	"strings"
)

const defaultLanguage = "text"

// CodeBlock is a fenced code block found in agent output
type CodeBlock struct {
	Language string `json:"language"`
	Content  string `json:"content"`
}

var codeBlockPattern = regexp.MustCompile("(?s)```([\\w+#.-]*)[ \\t]*\\r?\\n(.*?)```")

// ExtractCodeBlocks returns the fenced code blocks in order of appearance
func ExtractCodeBlocks(text string) []CodeBlock {
	matches := codeBlockPattern.FindAllStringSubmatch(text, -1)
	blocks := make([]CodeBlock, 0, len(matches))

	for _, m := range matches {
		lang := strings.ToLower(strings.TrimSpace(m[1]))
		if lang == "" {
			lang = defaultLanguage
		}
		blocks = append(blocks, CodeBlock{
			Language: lang,
			Content:  strings.TrimRight(m[2], "\r\n"),
		})
	}
	return blocks
}
