package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ToolCall is a <tool name=".." action="..">...</tool> element flattened into
// its attributes and direct children
type ToolCall struct {
	Name   string            `json:"name"`
	Action string            `json:"action"`
	Params map[string]string `json:"params"`
}

// ToolResult is the outcome of executing a ToolCall
type ToolResult struct {
	Tool    string `json:"tool"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

var (
	toolPattern      = regexp.MustCompile(`(?s)<tool\b([^>]*)>(.*?)</tool>`)
	attrPattern      = regexp.MustCompile(`([A-Za-z_][\w-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	childOpenPattern = regexp.MustCompile(`<([A-Za-z_][\w-]*)\s*>`)

	xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")
)

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

// ExtractToolCalls returns the well-formed tool elements in text. Elements
// without a name attribute or without a closing tag are skipped.
func ExtractToolCalls(text string) []ToolCall {
	var calls []ToolCall

	for _, m := range toolPattern.FindAllStringSubmatch(text, -1) {
		params := make(map[string]string)
		for _, a := range attrPattern.FindAllStringSubmatch(m[1], -1) {
			params[a[1]] = xmlEntities.Replace(a[2] + a[3])
		}
		if params["name"] == "" {
			continue
		}

		for k, v := range extractChildren(m[2]) {
			params[k] = v
		}

		calls = append(calls, ToolCall{
			Name:   params["name"],
			Action: params["action"],
			Params: params,
		})
	}

	return calls
}

// extractChildren reads <key>value</key> pairs. RE2 has no backreferences so
// closing tags are matched by scanning.
func extractChildren(body string) map[string]string {
	children := make(map[string]string)
	pos := 0

	for pos < len(body) {
		loc := childOpenPattern.FindStringSubmatchIndex(body[pos:])
		if loc == nil {
			break
		}
		name := body[pos+loc[2] : pos+loc[3]]
		start := pos + loc[1]
		closeTag := "</" + name + ">"

		searchFrom := start
		if rest := strings.TrimLeft(body[start:], " \t\r\n"); strings.HasPrefix(rest, cdataOpen) {
			cdataStart := start + (len(body[start:]) - len(rest))
			if end := strings.Index(body[cdataStart:], cdataClose); end >= 0 {
				searchFrom = cdataStart + end + len(cdataClose)
			}
		}

		end := strings.Index(body[searchFrom:], closeTag)
		if end < 0 {
			pos = start
			continue
		}
		end += searchFrom

		children[name] = childValue(body[start:end])
		pos = end + len(closeTag)
	}

	return children
}

func childValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, cdataOpen) && strings.HasSuffix(trimmed, cdataClose) {
		return trimmed[len(cdataOpen) : len(trimmed)-len(cdataClose)]
	}
	return xmlEntities.Replace(trimmed)
}

// FormatToolResult renders a result as an escaped <result> element
func FormatToolResult(r ToolResult) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, `<result tool="%s" action="%s" success="%s">`,
		escape(r.Tool), escape(r.Action), strconv.FormatBool(r.Success))
	if r.Success {
		fmt.Fprintf(&buf, "<output>%s</output>", escape(r.Output))
	} else {
		fmt.Fprintf(&buf, "<error>%s</error>", escape(r.Error))
	}
	buf.WriteString("</result>")

	return buf.String()
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
