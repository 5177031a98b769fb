// Package brief builds the short message preview stored with offline
// messages and written to audit logs.
package brief

const (
	MaxRunes    = 50
	Ellipsis    = "..."
	Placeholder = "[message]"
)

// Of returns content unchanged when it has at most MaxRunes characters,
// otherwise its first MaxRunes characters followed by Ellipsis. Empty content
// yields Placeholder.
func Of(content string) string {
	if content == "" {
		return Placeholder
	}
	n := 0
	for i := range content {
		if n == MaxRunes {
			return content[:i] + Ellipsis
		}
		n++
	}
	return content
}
