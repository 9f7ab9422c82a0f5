// Package i18n loads the YAML message catalog used for user notifications.
//
// Each file holds one or more top-level language sections; nested keys are
// flattened with dots, so es.promo.one_hour is looked up as "promo.one_hour".
package i18n

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	// Tf resolves key and substitutes {name} placeholders with params.
	Tf(key string, params map[string]string) string
	Lang() string
}

// Manager stores all available translations.
type Manager struct {
	translations map[string]map[string]string
	defaultLang  string
}

// LoadFromDir loads translations from a directory containing YAML files.
func LoadFromDir(dir, defaultLang string) (*Manager, error) {
	return LoadFS(os.DirFS(dir), ".", defaultLang)
}

// LoadFS loads every *.yaml / *.yml file directly under root in fsys.
func LoadFS(fsys fs.FS, root, defaultLang string) (*Manager, error) {
	catalog, err := parseDir(fsys, root)
	if err != nil {
		return nil, err
	}

	defaultLang = normalizeLang(defaultLang)
	if defaultLang == "" {
		defaultLang = "en"
	}
	if _, ok := catalog[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return &Manager{translations: catalog, defaultLang: defaultLang}, nil
}

// Require fails when the default language lacks any of keys. Other languages
// fall back to the default, so only it has to be complete.
func (m *Manager) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if _, ok := m.translations[m.defaultLang][key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("i18n: %s catalog is missing %s", m.defaultLang, strings.Join(missing, ", "))
	}
	return nil
}

// Translator returns a translator for the requested language.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	norm := normalizeLang(lang)
	if m.translations[norm] == nil {
		norm = m.defaultLang
	}

	return translator{
		lang:         norm,
		fallback:     m.defaultLang,
		translations: m.translations,
	}
}

// Languages returns all loaded languages, sorted.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}

	languages := make([]string, 0, len(m.translations))
	for lang := range m.translations {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}

type translator struct {
	lang         string
	fallback     string
	translations map[string]map[string]string
}

func (t translator) Lang() string {
	return t.lang
}

// T returns the key itself when no language has it.
func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}

	if value, ok := t.translations[t.lang][key]; ok {
		return value
	}
	if value, ok := t.translations[t.fallback][key]; ok {
		return value
	}

	return key
}

func (t translator) Tf(key string, params map[string]string) string {
	text := t.T(key)
	if len(params) == 0 {
		return text
	}

	pairs := make([]string, 0, len(params)*2)
	for name, value := range params {
		pairs = append(pairs, "{"+name+"}", value)
	}

	return strings.NewReplacer(pairs...).Replace(text)
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

func parseDir(fsys fs.FS, root string) (map[string]map[string]string, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", root, err)
	}

	catalog := make(map[string]map[string]string)
	var processed bool

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		processed = true

		file := path.Join(root, entry.Name())
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("i18n: read file %s: %w", file, err)
		}

		if err := parseFile(data, catalog); err != nil {
			return nil, fmt.Errorf("i18n: parse file %s: %w", file, err)
		}
	}

	if !processed {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", root)
	}

	return catalog, nil
}

func isYAML(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// parseFile merges the language sections of one file into catalog. Later files
// override earlier ones key by key.
func parseFile(data []byte, catalog map[string]map[string]string) error {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}

	for lang, section := range raw {
		lang = normalizeLang(lang)
		if lang == "" || len(section) == 0 {
			continue
		}

		if catalog[lang] == nil {
			catalog[lang] = make(map[string]string)
		}
		if err := flatten("", section, catalog[lang]); err != nil {
			return fmt.Errorf("language %s: %w", lang, err)
		}
	}

	return nil
}

func flatten(prefix string, in map[string]any, out map[string]string) error {
	for key, value := range in {
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		switch v := value.(type) {
		case string:
			out[key] = v
		case map[string]any:
			if err := flatten(key, v, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("key %s: expected text or section, got %T", key, value)
		}
	}
	return nil
}
