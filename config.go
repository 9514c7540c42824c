package splice

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/splice/store"
)

// validate is the shared validator instance.
var validate = validator.New()

// Config declares a join in data, for example:
//
//	intersect: false
//	paths:
//	  - path: users/account
//	    keymap: {email: true}
//	  - path: users/profile
//	    keymap:
//	      name: true
//	      style: {ref: styles, alias: style}
type Config struct {
	Paths     []PathConfig `json:"paths" yaml:"paths" validate:"required,min=1,dive"`
	Intersect bool         `json:"intersect" yaml:"intersect"`
}

// PathConfig declares one path. KeyMap entries are true, an alias, or a
// dynamic reference {ref: <location>, alias: <name>}.
type PathConfig struct {
	Path       string         `json:"path" yaml:"path" validate:"required"`
	KeyMap     map[string]any `json:"keymap,omitempty" yaml:"keymap,omitempty"`
	Intersects bool           `json:"intersects,omitempty" yaml:"intersects,omitempty"`
	SortBy     bool           `json:"sortBy,omitempty" yaml:"sortBy,omitempty"`
	Limit      int            `json:"limit,omitempty" yaml:"limit,omitempty" validate:"gte=0"`
}

// LoadConfig decodes and validates a join declaration.
func LoadConfig(data []byte, codec Codec) (*Config, error) {
	var cfg Config
	if err := codec.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode join config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate join config: %w", err)
	}
	return &cfg, nil
}

// Specs turns the declaration into path specs under root.
func (c *Config) Specs(root store.Ref) ([]any, error) {
	specs := make([]any, 0, len(c.Paths))
	for _, pc := range c.Paths {
		ref := root.Child(pc.Path)
		var src store.Query = ref
		if pc.Limit > 0 {
			q, err := ref.Limit(pc.Limit)
			if err != nil {
				return nil, fmt.Errorf("path %s: %w", pc.Path, err)
			}
			src = q
		}
		keys, err := configKeyMap(root, pc.KeyMap)
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", pc.Path, err)
		}
		specs = append(specs, PathSpec{
			Ref:        src,
			KeyMap:     keys,
			Intersects: pc.Intersects,
			SortBy:     pc.SortBy,
		})
	}
	return specs, nil
}

func configKeyMap(root store.Ref, decl map[string]any) (map[string]any, error) {
	if decl == nil {
		return nil, nil
	}
	out := make(map[string]any, len(decl))
	for field, v := range decl {
		obj, ok := v.(map[string]any)
		if !ok {
			out[field] = v
			continue
		}
		loc, _ := obj["ref"].(string)
		if loc == "" {
			return nil, fmt.Errorf("%w: field %q needs a ref", ErrInvalidKeyMap, field)
		}
		alias, _ := obj["alias"].(string)
		out[field] = Dynamic{Ref: root.Child(loc), Alias: alias}
	}
	return out, nil
}

// JoinConfig joins the paths declared by cfg under root.
func (j *Joiner) JoinConfig(root store.Ref, cfg *Config) (*Record, error) {
	specs, err := cfg.Specs(root)
	if err != nil {
		return nil, err
	}
	if cfg.Intersect {
		return j.Intersect(specs...)
	}
	return j.Join(specs...)
}
