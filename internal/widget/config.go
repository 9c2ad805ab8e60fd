// Package widget implements the chat widget: its conversation controller,
// quick actions, rendered view snapshots and shell state.
package widget

import (
	"fmt"
	"net/url"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config is the per-instance configuration injected by the host.
type Config struct {
	ID         string `yaml:"id" json:"id"`
	Endpoint   string `yaml:"endpoint" json:"-"`
	AccessKey  string `yaml:"access_key" json:"-"`
	Title      string `yaml:"title" json:"title"`
	StyleClass string `yaml:"style_class" json:"style_class"`
	Model      string `yaml:"model,omitempty" json:"-"`
}

// Validate checks that the widget can reach its agent.
func (c Config) Validate() error {
	if !idPattern.MatchString(c.ID) {
		return fmt.Errorf("widget id %q must be lowercase letters, digits, '-' or '_'", c.ID)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("widget %s: endpoint is required", c.ID)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("widget %s: endpoint %q must be an http(s) URL", c.ID, c.Endpoint)
	}
	if c.AccessKey == "" {
		return fmt.Errorf("widget %s: access key is required", c.ID)
	}
	return nil
}

// DisplayTitle returns the title, falling back to the id.
func (c Config) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}
