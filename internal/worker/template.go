package worker

import "regexp"

var tokenRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// substitute expands {{name}} tokens against the row view. Unknown names
// substitute the empty string; there is no nesting or pipeline syntax.
func substitute(text string, view map[string]string) string {
	if text == "" {
		return ""
	}
	return tokenRe.ReplaceAllStringFunc(text, func(tok string) string {
		name := tokenRe.FindStringSubmatch(tok)[1]
		return view[name]
	})
}
