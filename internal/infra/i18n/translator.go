package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// Translator holds one locale's message catalog.
type Translator struct {
	lang         string
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))

	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = langCode
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

func (t *Translator) Lang() string { return t.lang }

// T returns the message for key, formatted with args. Unknown keys come
// back unchanged.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Catalog selects a Translator per request.
type Catalog struct {
	def   *Translator
	langs map[string]*Translator
}

// NewCatalog loads every listed locale; def must be one of them.
func NewCatalog(fsys fs.FS, def string, langs ...string) (*Catalog, error) {
	c := &Catalog{langs: make(map[string]*Translator, len(langs))}
	for _, l := range langs {
		t, err := NewTranslator(fsys, l)
		if err != nil {
			return nil, err
		}
		c.langs[l] = t
	}
	d, ok := c.langs[def]
	if !ok {
		return nil, fmt.Errorf("default locale %q not loaded", def)
	}
	c.def = d
	return c, nil
}

// For picks the best locale for an Accept-Language header value. Quality
// weights are ignored; the first supported tag wins.
func (c *Catalog) For(acceptLanguage string) *Translator {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		base := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if t, ok := c.langs[base]; ok {
			return t
		}
	}
	return c.def
}
