package mcp

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
)

// Catalog is the set of tools offered by ready sessions. Servers are
// merged in lexical name order and the first server to offer a tool
// name owns it; later servers offering the same name are shadowed in
// the flat view but keep the tool in their own listing.
type Catalog struct {
	servers  []string
	byServer map[string][]ToolDefinition
	flat     map[string]ToolDefinition
	order    []string
	shadowed []ToolDefinition
}

func newCatalog(lists map[string][]ToolDefinition, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Catalog{
		byServer: make(map[string][]ToolDefinition, len(lists)),
		flat:     make(map[string]ToolDefinition),
	}
	for name := range lists {
		c.servers = append(c.servers, name)
	}
	sort.Strings(c.servers)

	for _, server := range c.servers {
		defs := lists[server]
		c.byServer[server] = defs
		for _, td := range defs {
			if owner, taken := c.flat[td.Name]; taken {
				logger.Warn("MCP tool name collision, keeping first server",
					"tool", td.Name,
					"kept", owner.ServerName,
					"shadowed", server,
				)
				c.shadowed = append(c.shadowed, td)
				continue
			}
			c.flat[td.Name] = td
			c.order = append(c.order, td.Name)
		}
	}
	return c
}

// Tools returns the dispatchable tools: one per name, in server order
// then listing order.
func (c *Catalog) Tools() []ToolDefinition {
	if c == nil {
		return []ToolDefinition{}
	}
	out := make([]ToolDefinition, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.flat[name])
	}
	return out
}

// ByServer returns every ready server's full listing, shadowed tools
// included.
func (c *Catalog) ByServer() map[string][]ToolDefinition {
	out := make(map[string][]ToolDefinition)
	if c == nil {
		return out
	}
	for server, defs := range c.byServer {
		out[server] = append([]ToolDefinition(nil), defs...)
	}
	return out
}

// Lookup returns the dispatchable tool with the given name.
func (c *Catalog) Lookup(name string) (ToolDefinition, bool) {
	if c == nil {
		return ToolDefinition{}, false
	}
	td, ok := c.flat[name]
	return td, ok
}

// Has reports whether server lists tool.
func (c *Catalog) Has(server, tool string) bool {
	if c == nil {
		return false
	}
	for _, td := range c.byServer[server] {
		if td.Name == tool {
			return true
		}
	}
	return false
}

// Shadowed returns the tools hidden from the flat view by an earlier
// server offering the same name.
func (c *Catalog) Shadowed() []ToolDefinition {
	if c == nil {
		return nil
	}
	return append([]ToolDefinition(nil), c.shadowed...)
}

// DecodeOutput interprets tool output text. Valid JSON is decoded into
// its Go value; anything else is returned as the original string.
// Integers decode to int64, or stay json.Number when they do not fit,
// so large ids keep every digit. Other numbers decode to float64.
func DecodeOutput(text string) any {
	if !json.Valid([]byte(text)) {
		return text
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return text
	}
	return normalizeNumbers(v)
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if !strings.ContainsAny(x.String(), ".eE") {
			return x
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x
	}
	return v
}
