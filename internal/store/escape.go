package store

import "strings"

// escapePath turns a repository-relative path into a single path component
// safe to use as a directory/file name, per the "traces/<escaped
// rule_path>/<escaped target_path>/<fingerprint>" layout. It is one-way:
// the store never needs to recover the original path from the escaped
// form, since callers always look traces up by the original rule/target
// paths and hand those paths to trace.Parse.
func escapePath(p string) string {
	var sb strings.Builder
	sb.Grow(len(p) + 8)
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == '%':
			sb.WriteString("%25")
		case c == '/':
			sb.WriteString("%2F")
		case c == 0:
			sb.WriteString("%00")
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
