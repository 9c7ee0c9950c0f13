// Package target picks and renders the URLs workers send requests to.
package target

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"text/template"

	"github.com/google/uuid"
)

// Picker chooses uniformly among a fixed set of URL templates. Plain URLs
// without template actions are returned as is.
type Picker struct {
	urls      []string
	templates []*template.Template // nil entry for plain URLs
}

var funcs = template.FuncMap{
	"randomInt":    randomInt,
	"randomUUID":   randomUUID,
	"uuid":         randomUUID,
	"randomChoice": randomChoice,
}

// NewPicker parses every URL. {{uuid}} and {{requestID}} are accepted as
// shorthands for a fresh UUID per request.
func NewPicker(urls []string) (*Picker, error) {
	p := &Picker{
		urls:      make([]string, len(urls)),
		templates: make([]*template.Template, len(urls)),
	}
	copy(p.urls, urls)

	for i, u := range urls {
		if strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("url %d is empty", i)
		}
		if !strings.Contains(u, "{{") {
			continue
		}
		t, err := template.New(fmt.Sprintf("url%d", i)).Funcs(funcs).Parse(preprocess(u))
		if err != nil {
			return nil, fmt.Errorf("url %d %q: %w", i, u, err)
		}
		p.templates[i] = t
	}
	return p, nil
}

func preprocess(s string) string {
	s = strings.ReplaceAll(s, "{{requestID}}", "{{uuid}}")
	return s
}

func (p *Picker) Len() int { return len(p.urls) }

// Pick returns a rendered URL chosen uniformly at random.
func (p *Picker) Pick() (string, error) {
	if len(p.urls) == 0 {
		return "", fmt.Errorf("no target urls")
	}
	i := rand.Intn(len(p.urls))
	return p.render(i)
}

func (p *Picker) render(i int) (string, error) {
	t := p.templates[i]
	if t == nil {
		return p.urls[i], nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, nil); err != nil {
		return "", fmt.Errorf("render %q: %w", p.urls[i], err)
	}
	return buf.String(), nil
}

func randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.Intn(max-min) + min
}

func randomUUID() string {
	return uuid.New().String()
}

func randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.Intn(len(choices))]
}
