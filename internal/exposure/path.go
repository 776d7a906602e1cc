package exposure

import (
	"strconv"
	"strings"
)

// segment is one step of a field path: a map key or a slice index.
type segment struct {
	key   string
	index int
	isIdx bool
}

// keyEscaper protects map keys that contain path syntax.
var keyEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`, `[`, `\[`, `]`, `\]`)

// parsePath splits "body.items[2].value" into key and index segments. A
// backslash makes the next byte part of the key, so "env.db\.pass" names the
// "db.pass" key of "env". A malformed index turns the rest of the path into
// one literal key, which the caller then fails to resolve.
func parsePath(p string) []segment {
	var segs []segment
	var key strings.Builder
	pending := false
	flush := func() {
		if pending {
			segs = append(segs, segment{key: key.String()})
			key.Reset()
			pending = false
		}
	}
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case c == '\\' && i+1 < len(p):
			i++
			key.WriteByte(p[i])
			pending = true
		case c == '.':
			flush()
		case c == '[':
			end := strings.IndexByte(p[i:], ']')
			n, err := -1, error(nil)
			if end > 0 {
				n, err = strconv.Atoi(p[i+1 : i+end])
			}
			if end < 0 || err != nil || n < 0 {
				key.WriteString(p[i:])
				pending = true
				flush()
				return segs
			}
			flush()
			segs = append(segs, segment{index: n, isIdx: true})
			i += end
		default:
			key.WriteByte(c)
			pending = true
		}
	}
	flush()
	return segs
}

func child(node any, s segment) (any, bool) {
	if s.isIdx {
		list, ok := node.([]any)
		if !ok || s.index >= len(list) {
			return nil, false
		}
		return list[s.index], true
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[s.key]
	return v, ok
}

// assign replaces an existing child of node.
func assign(node any, s segment, v any) bool {
	if s.isIdx {
		list, ok := node.([]any)
		if !ok || s.index >= len(list) {
			return false
		}
		list[s.index] = v
		return true
	}
	m, ok := node.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := m[s.key]; !ok {
		return false
	}
	m[s.key] = v
	return true
}

// lookup resolves path in root.
func lookup(root any, path string) (any, bool) {
	cur := root
	for _, s := range parsePath(path) {
		next, ok := child(cur, s)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// set replaces the value at path in root, which it mutates. It reports
// whether the path existed.
func set(root any, path string, v any) bool {
	segs := parsePath(path)
	if len(segs) == 0 {
		return false
	}
	cur := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := child(cur, s)
		if !ok {
			return false
		}
		cur = next
	}
	return assign(cur, segs[len(segs)-1], v)
}

// setNearest replaces the deepest node on path that still resolves, so a
// value whose own path is lost is covered by its container. When nothing
// below the root resolves, the whole body is replaced.
func setNearest(root any, path string, v any) {
	var parent any
	var last segment
	cur := root
	for _, s := range parsePath(path) {
		next, ok := child(cur, s)
		if !ok {
			break
		}
		parent, last, cur = cur, s, next
	}
	if parent != nil && assign(parent, last, v) {
		return
	}
	if m, ok := root.(map[string]any); ok {
		m["body"] = v
	}
}

func joinKey(prefix, key string) string {
	key = keyEscaper.Replace(key)
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func joinIndex(prefix string, i int) string {
	return prefix + "[" + strconv.Itoa(i) + "]"
}

// deepCopy copies the map and slice structure of a JSON tree.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	}
	return v
}
