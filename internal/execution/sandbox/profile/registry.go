package profile

import (
	"sort"
	"strings"

	appErr "runbox/pkg/errors"
)

// Registry is a read-only table of languages. It is built once and never
// mutated; lookups return copies.
type Registry struct {
	languages map[string]LanguageSpec
	aliases   map[string]string
	order     []string
}

// NewRegistry validates languages and freezes them into a registry. A later
// entry with the same id replaces an earlier one.
func NewRegistry(languages ...LanguageSpec) (*Registry, error) {
	r := &Registry{
		languages: make(map[string]LanguageSpec, len(languages)),
		aliases:   make(map[string]string),
	}
	for _, lang := range languages {
		if err := lang.Validate(); err != nil {
			return nil, err
		}
		id := normalize(lang.ID)
		if _, exists := r.languages[id]; !exists {
			r.order = append(r.order, id)
		}
		lang.ID = id
		r.languages[id] = lang.clone()
	}
	for _, id := range r.order {
		for _, alias := range r.languages[id].Aliases {
			alias = normalize(alias)
			if _, clash := r.languages[alias]; clash {
				return nil, appErr.ValidationError(id+".aliases", "alias "+alias+" shadows a language id")
			}
			if owner, clash := r.aliases[alias]; clash && owner != id {
				return nil, appErr.ValidationError(id+".aliases", "alias "+alias+" already used by "+owner)
			}
			r.aliases[alias] = id
		}
	}
	return r, nil
}

// Lookup resolves a language id or alias.
func (r *Registry) Lookup(id string) (LanguageSpec, error) {
	if strings.TrimSpace(id) == "" {
		return LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	key := normalize(id)
	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	lang, ok := r.languages[key]
	if !ok {
		return LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", id)
	}
	return lang.clone(), nil
}

// List returns every language sorted by id.
func (r *Registry) List() []LanguageSpec {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	out := make([]LanguageSpec, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.languages[id].clone())
	}
	return out
}

// Len returns the number of languages.
func (r *Registry) Len() int {
	return len(r.languages)
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
