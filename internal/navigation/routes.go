package navigation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Destination is where a route token leads.
type Destination struct {
	Screen string            `yaml:"screen" json:"screen"`
	Params map[string]string `yaml:"params" json:"params,omitempty"`
}

// UnmarshalYAML accepts both `token: Screen` and the mapping form.
func (d *Destination) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		d.Screen = n.Value
		return nil
	}
	type plain Destination
	return n.Decode((*plain)(d))
}

// Routes maps in-app route tokens (lower-cased) to destinations.
type Routes map[string]Destination

func (r Routes) Lookup(token string) (Destination, bool) {
	d, ok := r[strings.ToLower(strings.TrimSpace(token))]
	return d, ok
}

// LoadRoutes reads the route table at path, then the optional overlay next
// to it named after ENV (routes.yaml + routes.prod.yaml). A missing base
// file yields an empty table.
func LoadRoutes(path string) (Routes, error) {
	routes := Routes{}
	if path == "" {
		return routes, nil
	}
	if err := loadYAML(path, routes); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	env := strings.ToLower(os.Getenv("ENV"))
	if env != "" {
		ext := filepath.Ext(path)
		overlay := strings.TrimSuffix(path, ext) + "." + env + ext
		if err := loadYAML(overlay, routes); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return routes, nil
}

func loadYAML(path string, into Routes) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var doc struct {
		Routes map[string]Destination `yaml:"routes"`
	}
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return fmt.Errorf("decode route table %s: %w", path, err)
	}
	for k, v := range doc.Routes {
		into[strings.ToLower(k)] = v
	}
	return nil
}
