package autoinstall

import (
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/River-unknown/kit/internal/protocol"
)

// Specifier identifies one version of an adaptor package, e.g. `@kit/language-http@2.1.0`.
type Specifier struct {
	Name    string
	Version string
}

// ParseSpecifier splits raw at its last `@`, so scoped package names keep their leading `@`.
// The version must be a valid semantic version.
func ParseSpecifier(raw string) (Specifier, error) {
	idx := strings.LastIndex(raw, "@")
	if idx <= 0 || idx == len(raw)-1 {
		return Specifier{}, InvalidSpecifierError{Specifier: raw, Reason: "expected name@version"}
	}

	spec := Specifier{Name: raw[:idx], Version: raw[idx+1:]}

	if _, err := version.NewSemver(spec.Version); err != nil {
		return Specifier{}, InvalidSpecifierError{Specifier: raw, Reason: err.Error()}
	}

	return spec, nil
}

func (spec Specifier) String() string {
	return spec.Name + "@" + spec.Version
}

// Alias is the dependency key the adaptor is installed under, so several versions of the same
// adaptor can live side by side in one repo.
func (spec Specifier) Alias() string {
	return spec.Name + "_" + spec.Version
}

// IdentifyAdaptors returns the distinct adaptor specifiers of jobs in first-seen order.
// Jobs without an adaptor are skipped.
func IdentifyAdaptors(jobs []protocol.Job) ([]Specifier, error) {
	var (
		specs []Specifier
		seen  = make(map[string]struct{}, len(jobs))
	)

	for _, job := range jobs {
		if job.Adaptor == "" {
			continue
		}

		if _, ok := seen[job.Adaptor]; ok {
			continue
		}

		seen[job.Adaptor] = struct{}{}

		spec, err := ParseSpecifier(job.Adaptor)
		if err != nil {
			return nil, err
		}

		specs = append(specs, spec)
	}

	return specs, nil
}
