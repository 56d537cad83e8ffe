package i18n

import (
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-yaml"
	"golang.org/x/text/language"
)

// Catalog holds localized strings and picks a language from an
// Accept-Language header.
type Catalog struct {
	mu       sync.RWMutex
	tags     []language.Tag
	messages []map[string]string
	matcher  language.Matcher
}

// New creates a catalog whose fallback language is def.
func New(def language.Tag) *Catalog {
	c := &Catalog{
		tags:     []language.Tag{def},
		messages: []map[string]string{{}},
	}
	c.matcher = language.NewMatcher(c.tags)
	return c
}

// Add merges messages for lang.
func (c *Catalog) Add(lang string, messages map[string]string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("i18n: language %q: %w", lang, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, t := range c.tags {
		if t == tag {
			for k, v := range messages {
				c.messages[i][k] = v
			}
			return nil
		}
	}

	copied := make(map[string]string, len(messages))
	for k, v := range messages {
		copied[k] = v
	}
	c.tags = append(c.tags, tag)
	c.messages = append(c.messages, copied)
	c.matcher = language.NewMatcher(c.tags)
	return nil
}

// LoadFile reads a YAML document mapping language to key to string:
//
//	de:
//	  title_error_404: Nicht gefunden
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	var doc map[string]map[string]string
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("i18n: parse %s: %w", path, err)
	}
	for lang, messages := range doc {
		if err := c.Add(lang, messages); err != nil {
			return err
		}
	}
	return nil
}

// Translate returns the message for key in the best language for
// acceptLanguage, then in the fallback language, then fallback itself.
func (c *Catalog) Translate(acceptLanguage, key, fallback string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if acceptLanguage != "" {
		if prefs, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(prefs) > 0 {
			_, idx, conf := c.matcher.Match(prefs...)
			if conf != language.No {
				if v, ok := c.messages[idx][key]; ok {
					return v
				}
			}
		}
	}
	if v, ok := c.messages[0][key]; ok {
		return v
	}
	return fallback
}

// Languages lists the catalog languages, fallback first.
func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.tags))
	for i, t := range c.tags {
		out[i] = t.String()
	}
	return out
}
