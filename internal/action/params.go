package action

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Shell metacharacters rejected in command-like parameters.
const shellMetaChars = ";|&`$()<>"

var (
	commandKeys = map[string]bool{"command": true, "cmd": true, "shell": true}
	queryKeys   = map[string]bool{"query": true, "sql": true}

	sqlUnionSelect = regexp.MustCompile(`(?is)\bunion\b.+\bselect\b`)
	sqlStackedDrop = regexp.MustCompile(`(?is);\s*drop\b`)

	// A -- that opens a line comment: at line start or after
	// whitespace, a quote, a closing paren or a semicolon. Hyphens
	// embedded in words stay legal.
	sqlLineComment = regexp.MustCompile(`(?m)(^|[\s'");])--`)
)

// unsafeParam walks params and reports the first command or query value
// carrying an injection signature. Keys match on their final path
// segment, case-insensitively, so nested {"db": {"query": ...}} is
// covered.
func unsafeParam(params map[string]interface{}) (key, reason string, bad bool) {
	walkParams(params, "", func(path, leaf, value string) bool {
		switch {
		case commandKeys[leaf]:
			if i := strings.IndexAny(value, shellMetaChars); i >= 0 {
				key = path
				reason = fmt.Sprintf("shell metacharacter %q", string(value[i]))
				bad = true
			}
		case queryKeys[leaf]:
			switch {
			case sqlUnionSelect.MatchString(value):
				key, reason, bad = path, "UNION SELECT injection signature", true
			case sqlStackedDrop.MatchString(value):
				key, reason, bad = path, "stacked DROP statement", true
			case sqlLineComment.MatchString(value):
				key, reason, bad = path, "SQL line comment", true
			}
		}
		return !bad
	})
	return key, reason, bad
}

// flattenParams renders every string leaf as a "path=value" line so the
// whole parameter tree can go through the content scanner in one pass.
func flattenParams(params map[string]interface{}) string {
	var b strings.Builder
	walkParams(params, "", func(path, _, value string) bool {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(path)
		b.WriteByte('=')
		b.WriteString(value)
		return true
	})
	return b.String()
}

// walkParams visits every string leaf depth-first in sorted key order.
// The visitor gets the dotted path, the lowercased final key segment
// and the value; returning false stops the walk.
func walkParams(params map[string]interface{}, prefix string, visit func(path, leaf, value string) bool) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if !walkValue(path, strings.ToLower(k), params[k], visit) {
			return false
		}
	}
	return true
}

func walkValue(path, leaf string, value interface{}, visit func(path, leaf, value string) bool) bool {
	switch val := value.(type) {
	case string:
		return visit(path, leaf, val)
	case map[string]interface{}:
		return walkParams(val, path, visit)
	case []interface{}:
		for i, item := range val {
			if !walkValue(fmt.Sprintf("%s[%d]", path, i), leaf, item, visit) {
				return false
			}
		}
	}
	return true
}
