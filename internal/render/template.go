package render

import (
	"regexp"
	"strings"
	"time"
)

var templateVarRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// DefaultDateFormat renders dates as "2024.03.01 14:05:09 CET".
const DefaultDateFormat = "2006.01.02 15:04:05 MST"

// TemplateContext contains values for template variable substitution.
type TemplateContext struct {
	Name       string
	Date       time.Time
	DateFormat string
	Reason     string
	Contact    string
	Location   string
}

// ExpandTemplateVariables replaces template variables in text with values from context.
//
// Supported variables:
//   - {{Name}} - Signer name
//   - {{Date}} - Signing date (DateFormat, DefaultDateFormat when empty)
//   - {{Reason}} - Signing reason
//   - {{Contact}} - Signer contact information
//   - {{Location}} - Signing location
func ExpandTemplateVariables(text string, ctx TemplateContext) string {
	return templateVarRegex.ReplaceAllStringFunc(text, func(match string) string {
		varName := match[2 : len(match)-2] // Remove {{ and }}
		switch varName {
		case "Name":
			return ctx.Name
		case "Date":
			format := ctx.DateFormat
			if format == "" {
				format = DefaultDateFormat
			}
			if ctx.Date.IsZero() {
				return time.Now().Format(format)
			}
			return ctx.Date.Format(format)
		case "Reason":
			return ctx.Reason
		case "Contact":
			return ctx.Contact
		case "Location":
			return ctx.Location
		default:
			return match // Keep unknown variables as-is
		}
	})
}

// ExpandLines expands every template and drops lines whose variables all
// expanded to nothing, so "Reason: {{Reason}}" disappears without a reason.
func ExpandLines(templates []string, ctx TemplateContext) []string {
	var lines []string
	for _, tpl := range templates {
		vars := templateVarRegex.FindAllString(tpl, -1)
		if len(vars) > 0 {
			empty := true
			for _, v := range vars {
				if strings.TrimSpace(ExpandTemplateVariables(v, ctx)) != "" {
					empty = false
					break
				}
			}
			if empty {
				continue
			}
		}
		line := ExpandTemplateVariables(tpl, ctx)
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
