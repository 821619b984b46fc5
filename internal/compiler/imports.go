package compiler

import (
	"regexp"

	"github.com/River-unknown/kit/pkg/log"
)

// hostGlobals are never imported from an adaptor that does not declare its exports.
var hostGlobals = regexp.MustCompile(`^(state|console|JSON|setInterval|clearInterval|setTimeout|clearTimeout|parseInt|parseFloat|atob|btoa)$`)

// Adaptor describes the export surface of an installed adaptor package.
type Adaptor struct {
	// Name is the module specifier the generated statements import from.
	Name string
	// Exports lists the names the adaptor exports, in manifest order. Empty means unknown.
	Exports []string
	// ExportAll adds `export * from "<Name>"` after the import.
	ExportAll bool
}

// UsedExports returns the names InjectAdaptor would import for the given free identifiers.
//
// With a known export list only free identifiers the adaptor exports are imported, in export
// order. Without one every free identifier except the host globals is imported in first-seen
// order. The fallback is imprecise: a free name that is really a runtime global (a polyfill, a
// name the host injects) is still imported from the adaptor.
func (adaptor Adaptor) UsedExports(identifiers IdentifierSet) []string {
	var used []string

	if len(adaptor.Exports) > 0 {
		seen := make(map[string]struct{}, len(adaptor.Exports))

		for _, name := range adaptor.Exports {
			if _, dup := seen[name]; dup || !identifiers.Has(name) {
				continue
			}

			seen[name] = struct{}{}
			used = append(used, name)
		}

		return used
	}

	for _, name := range identifiers.Names() {
		if !hostGlobals.MatchString(name) {
			used = append(used, name)
		}
	}

	return used
}

// InjectAdaptor returns a copy of program with an import statement for every free identifier
// the adaptor provides prepended to the body, followed by `export * from` when ExportAll is set.
// The input program is never modified; it is returned as is when there is nothing to inject.
func InjectAdaptor(program *Node, adaptor Adaptor, logger log.Logger) *Node {
	if program == nil || adaptor.Name == "" {
		return program
	}

	used := adaptor.UsedExports(FindFreeIdentifiers(program))
	if len(used) == 0 {
		return program
	}

	body := []any{ImportDeclaration(used, adaptor.Name)}
	logger.Debugf("Added import statement for %s", adaptor.Name)

	if adaptor.ExportAll {
		body = append(body, ExportAllDeclaration(adaptor.Name))
		logger.Debugf("Added export * statement for %s", adaptor.Name)
	}

	if existing, ok := program.Get("body").([]any); ok {
		body = append(body, existing...)
	}

	compiled := program.ShallowCopy()
	compiled.Set("sourceType", "module")
	compiled.Set("body", body)

	return compiled
}
