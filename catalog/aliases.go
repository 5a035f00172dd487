package catalog

import (
	"encoding/json"
	"maps"
)

// Aliases maps a worker label to the label of the worker which implements it.
type Aliases map[string]string

// DefaultAliases returns the dialects which share a worker with another
// language.
func DefaultAliases() Aliases {
	return Aliases{
		"scss":       "css",
		"less":       "css",
		"handlebars": "html",
		"razor":      "html",
		"javascript": "typescript",
	}
}

// Merge returns a new table containing a overlaid with overrides. Neither input
// is modified.
func (a Aliases) Merge(overrides map[string]string) Aliases {
	out := make(Aliases, len(a)+len(overrides))
	maps.Copy(out, a)
	maps.Copy(out, overrides)
	return out
}

// Resolve returns the label of the worker which serves label. Labels without an
// alias resolve to themselves.
func (a Aliases) Resolve(label string) string {
	if target, ok := a[label]; ok {
		return target
	}
	return label
}

// JSON encodes the table as a JSON object with sorted keys.
func (a Aliases) JSON() string {
	if a == nil {
		return "{}"
	}
	// A map[string]string always marshals.
	b, _ := json.Marshal(map[string]string(a))
	return string(b)
}

// Resolver resolves editor worker labels against a catalog.
type Resolver struct {
	Catalog Catalog
	Aliases Aliases
}

// NewResolver returns a resolver over the default catalog and alias table.
func NewResolver() Resolver {
	return Resolver{Catalog: Default(), Aliases: DefaultAliases()}
}

// Worker returns the module specifier of the worker serving label. ok is false
// when no worker exists, in which case the editor falls back to plain text.
func (r Resolver) Worker(label string) (entry string, ok bool) {
	entry, ok = r.Catalog.WorkerEntries()[r.Aliases.Resolve(label)]
	return entry, ok
}

// Bundle returns the name of the compiled script the page loads for label,
// without the .js suffix.
func (r Resolver) Bundle(label string) string {
	return r.Aliases.Resolve(label)
}
