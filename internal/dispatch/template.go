package dispatch

import "strings"

// renderTemplate performs literal {{key}} substitution (spec §4.3.1 step 2,
// §9 design note): no conditionals or loops, unreplaced tokens are left as
// text.
func renderTemplate(content string, props map[string]string) string {
	if len(props) == 0 {
		return content
	}
	var b strings.Builder
	b.Grow(len(content))
	for i := 0; i < len(content); {
		if content[i] == '{' && i+1 < len(content) && content[i+1] == '{' {
			end := strings.Index(content[i:], "}}")
			if end >= 0 {
				key := content[i+2 : i+end]
				if val, ok := props[key]; ok {
					b.WriteString(val)
					i += end + 2
					continue
				}
			}
		}
		b.WriteByte(content[i])
		i++
	}
	return b.String()
}
