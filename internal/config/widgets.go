package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/agent-widgets/internal/widget"
)

// envRefPattern matches ${NAME}. A bare $NAME is left as written.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// widgetsFile is the on-disk layout of WIDGETS_FILE.
type widgetsFile struct {
	Widgets []widget.Config `yaml:"widgets"`
}

// LoadWidgets reads widget definitions from path. ${VAR} references are
// expanded from the environment so access keys stay out of the file. When the
// file does not exist the two demo widgets are built from environment
// variables instead.
func LoadWidgets(path string) ([]widget.Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return envWidgets(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read widgets file: %w", err)
	}
	return ParseWidgets(data)
}

// ParseWidgets decodes a widgets document.
func ParseWidgets(data []byte) ([]widget.Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(expandEnvRefs(data)))
	dec.KnownFields(true)

	var doc widgetsFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse widgets file: %w", err)
	}
	return doc.Widgets, nil
}

// expandEnvRefs replaces every ${NAME} with the environment value, empty when unset.
func expandEnvRefs(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envRefPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ValidateWidgets checks each widget and rejects duplicate ids.
func ValidateWidgets(widgets []widget.Config) error {
	if len(widgets) == 0 {
		return fmt.Errorf("no widgets configured")
	}
	seen := make(map[string]bool, len(widgets))
	for _, w := range widgets {
		if err := w.Validate(); err != nil {
			return err
		}
		if seen[w.ID] {
			return fmt.Errorf("duplicate widget id %q", w.ID)
		}
		seen[w.ID] = true
	}
	return nil
}

// envWidgets builds the admin and general-user demo widgets. Widgets whose
// endpoint is unset are skipped.
func envWidgets() []widget.Config {
	candidates := []widget.Config{
		{
			ID:         "admin",
			Endpoint:   getEnv("ADMIN_AGENT_ENDPOINT", ""),
			AccessKey:  getEnv("ADMIN_AGENT_KEY", ""),
			Title:      getEnv("ADMIN_AGENT_TITLE", "Admin Agent"),
			StyleClass: "admin-widget",
		},
		{
			ID:         "gu",
			Endpoint:   getEnv("GU_AGENT_ENDPOINT", ""),
			AccessKey:  getEnv("GU_AGENT_KEY", ""),
			Title:      getEnv("GU_AGENT_TITLE", "General User Agent"),
			StyleClass: "gu-widget",
		},
	}
	var out []widget.Config
	for _, w := range candidates {
		if w.Endpoint != "" {
			out = append(out, w)
		}
	}
	return out
}
