package command

import (
	"fmt"
	"os"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldFile
	FieldLanguage
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool
}

// RenderKind selects how the REPL prints a response.
type RenderKind int

const (
	RenderJSON RenderKind = iota
	RenderRunTests
	RenderSubmit
	RenderProgress
	RenderProgressList
)

// Command defines a CLI command binding.
type Command struct {
	Service      string
	Action       string
	Method       string
	PathTemplate string
	RequiresAuth bool
	Fields       []Field
	Render       RenderKind
	Help         string
}

// Key is the registry key, "service" or "service action".
func (c Command) Key() string {
	if c.Action == "" {
		return c.Service
	}
	return c.Service + " " + c.Action
}

// Usage renders positional usage, e.g. "judge <problem> <file> [language]".
func (c Command) Usage() string {
	var b strings.Builder
	b.WriteString(c.Key())
	for _, field := range c.Fields {
		if field.Required {
			fmt.Fprintf(&b, " <%s>", field.Prompt)
		} else {
			fmt.Fprintf(&b, " [%s]", field.Prompt)
		}
	}
	return b.String()
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseArgs accepts key=value pairs and positional values in field order.
func ParseArgs(cmd Command, args []string) (Params, error) {
	params := Params{}
	var positional []string
	for _, arg := range args {
		if key, value, ok := strings.Cut(arg, "="); ok && key != "" {
			params.Set(key, value)
			continue
		}
		positional = append(positional, arg)
	}
	params.Canonicalize(cmd.Fields)

	for _, field := range cmd.Fields {
		if len(positional) == 0 {
			break
		}
		if params.Has(field.Name) {
			continue
		}
		params.Set(field.Name, positional[0])
		positional = positional[1:]
	}
	if len(positional) > 0 {
		return nil, fmt.Errorf("too many arguments, usage: %s", cmd.Usage())
	}
	for _, field := range cmd.Fields {
		if field.Required && strings.TrimSpace(params.Get(field.Name)) == "" {
			return nil, fmt.Errorf("missing %s, usage: %s", field.Prompt, cmd.Usage())
		}
	}
	return params, nil
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
