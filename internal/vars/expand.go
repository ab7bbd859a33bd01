package vars

import (
	"os"
	"strings"
	"sync"
)

// Expander replaces ${name} placeholders with configured variables.
// Variables win over the process environment; unknown placeholders are left as written.
type Expander struct {
	vars map[string]string
	env  bool
	rwM  sync.RWMutex
}

func NewExpander(vars map[string]string, env bool) *Expander {
	e := Expander{
		vars: make(map[string]string, len(vars)),
		env:  env,
	}
	for k, v := range vars {
		e.vars[k] = v
	}
	return &e
}

func (e *Expander) Set(name, value string) {
	e.rwM.Lock()
	defer e.rwM.Unlock()
	e.vars[name] = value
}

func (e *Expander) lookup(name string) (string, bool) {
	e.rwM.RLock()
	v, ok := e.vars[name]
	e.rwM.RUnlock()
	if ok {
		return v, true
	}
	if e.env {
		return os.LookupEnv(name)
	}
	return "", false
}

// Expand
// a placeholder may carry a default: ${name:fallback}.
func (e *Expander) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[start+2:], '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start + 2

		b.WriteString(s[:start])
		key := s[start+2 : end]
		name, fallback, hasFallback := strings.Cut(key, ":")
		if v, ok := e.lookup(name); ok {
			b.WriteString(v)
		} else if hasFallback {
			b.WriteString(fallback)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}

	return b.String()
}
