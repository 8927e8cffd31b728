package envelope

import "strings"

// PutDotted sets value at a dotted path within the message body, creating
// intermediate objects as needed. "a.b.c" creates/overwrites
// Body["a"]["b"]["c"].
func (m *Message) PutDotted(path string, value interface{}) {
	if m.Body == nil {
		m.Body = make(map[string]interface{})
	}
	putDotted(m.Body, strings.Split(path, "."), value)
}

func putDotted(obj map[string]interface{}, parts []string, value interface{}) {
	if len(parts) == 1 {
		obj[parts[0]] = value
		return
	}
	next, ok := obj[parts[0]].(map[string]interface{})
	if !ok {
		next = make(map[string]interface{})
		obj[parts[0]] = next
	}
	putDotted(next, parts[1:], value)
}

// GetDotted retrieves the value at a dotted path, returning (nil, false)
// if any segment is absent or not an object along the way.
func (m *Message) GetDotted(path string) (interface{}, bool) {
	return getDotted(m.Body, strings.Split(path, "."))
}

func getDotted(obj map[string]interface{}, parts []string) (interface{}, bool) {
	v, ok := obj[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	next, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return getDotted(next, parts[1:])
}

// HasDotted reports whether a dotted path resolves to a present value.
func (m *Message) HasDotted(path string) bool {
	_, ok := m.GetDotted(path)
	return ok
}

// RemoveDotted deletes the value at a dotted path, leaving any now-empty
// intermediate objects in place (they are not pruned).
func (m *Message) RemoveDotted(path string) {
	parts := strings.Split(path, ".")
	removeDotted(m.Body, parts)
}

func removeDotted(obj map[string]interface{}, parts []string) {
	if obj == nil {
		return
	}
	if len(parts) == 1 {
		delete(obj, parts[0])
		return
	}
	next, ok := obj[parts[0]].(map[string]interface{})
	if !ok {
		return
	}
	removeDotted(next, parts[1:])
}
