package tools

import "sync"

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the shared registry holding every built-in tool.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewBuiltin()
	})
	return defaultReg
}

// NewBuiltin builds a fresh registry with every built-in tool registered.
func NewBuiltin() *Registry {
	r := NewRegistry()
	registerPageTools(r)
	registerCatalogTools(r)
	registerImportTool(r)
	return r
}
