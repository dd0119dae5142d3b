package realms

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed realms.schema.json
var schemaJSON string

// Kind names a reserved realm with built-in permission rules.
type Kind string

const (
	NotReserved Kind = ""
	Default     Kind = "default"
	Hideout     Kind = "hideout"
)

// Rules are the per-realm boolean properties the teleport path consults.
type Rules struct {
	HasRecalls                 bool `yaml:"has_recalls"`
	IsPKOnly                   bool `yaml:"is_pk_only"`
	HideoutEnabled             bool `yaml:"hideout_enabled"`
	CanInteractWithNeutralZone bool `yaml:"can_interact_with_neutral_zone"`
	IsNeutralZone              bool `yaml:"is_neutral_zone"`
}

type Realm struct {
	ID       uint16 `yaml:"id"`
	Name     string `yaml:"name"`
	Reserved Kind   `yaml:"reserved"`
	Rules    Rules  `yaml:"rules"`
	// Landblocks is the destination whitelist; empty allows every landblock.
	Landblocks []uint16 `yaml:"landblocks"`

	whitelist map[uint16]struct{}
}

func (r *Realm) IsWhitelistedLandblock(lb uint16) bool {
	if len(r.whitelist) == 0 {
		return true
	}
	_, ok := r.whitelist[lb]
	return ok
}

type Config struct {
	Realms []Realm `yaml:"realms"`
}

// Catalog is an immutable realm lookup built from realms.yaml.
type Catalog struct {
	cfg    Config
	byID   map[uint16]*Realm
	byKind map[Kind]*Realm
}

var (
	schemaOnce sync.Once
	compiled   *jsonschema.Schema
	compileErr error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiled, compileErr = jsonschema.CompileString("realms.schema.json", schemaJSON)
	})
	return compiled, compileErr
}

// Load reads and validates realms.yaml. An empty path yields the built-in default realms.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return NewCatalog(Defaults())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cat, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("realms.yaml: %w", err)
	}
	return cat, nil
}

// Parse checks the document against the realms schema and builds a catalog.
func Parse(b []byte) (*Catalog, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	// The validator wants JSON values.
	j, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(j, &v); err != nil {
		return nil, err
	}
	s, err := schema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return NewCatalog(cfg)
}

func Defaults() Config {
	return Config{Realms: []Realm{
		{ID: 0, Name: "Default", Reserved: Default, Rules: Rules{HasRecalls: true}},
		{ID: 0x7FFF, Name: "Hideout", Reserved: Hideout, Rules: Rules{HasRecalls: true}},
	}}
}

func NewCatalog(cfg Config) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Catalog{cfg: cfg, byID: map[uint16]*Realm{}, byKind: map[Kind]*Realm{}}
	for i := range cfg.Realms {
		r := cfg.Realms[i]
		r.whitelist = make(map[uint16]struct{}, len(r.Landblocks))
		for _, lb := range r.Landblocks {
			r.whitelist[lb] = struct{}{}
		}
		c.byID[r.ID] = &r
		if r.Reserved != NotReserved {
			c.byKind[r.Reserved] = &r
		}
	}
	return c, nil
}

func (cfg Config) Validate() error {
	if len(cfg.Realms) == 0 {
		return errors.New("no realms")
	}
	seenID := map[uint16]bool{}
	seenKind := map[Kind]bool{}
	for _, r := range cfg.Realms {
		if r.ID > 0x7FFF {
			return fmt.Errorf("realm %q: id %d exceeds 32767", r.Name, r.ID)
		}
		if seenID[r.ID] {
			return fmt.Errorf("duplicate realm id %d", r.ID)
		}
		seenID[r.ID] = true
		switch r.Reserved {
		case NotReserved:
		case Default, Hideout:
			if seenKind[r.Reserved] {
				return fmt.Errorf("duplicate reserved realm %q", r.Reserved)
			}
			seenKind[r.Reserved] = true
		default:
			return fmt.Errorf("realm %d: unknown reserved kind %q", r.ID, r.Reserved)
		}
	}
	if !seenKind[Default] {
		return errors.New("missing reserved default realm")
	}
	return nil
}

// Realm resolves a realm by id.
func (c *Catalog) Realm(id uint16) (*Realm, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// ReservedKind reports the reserved kind of realm id, if it is reserved.
func (c *Catalog) ReservedKind(id uint16) (Kind, bool) {
	r, ok := c.byID[id]
	if !ok || r.Reserved == NotReserved {
		return NotReserved, false
	}
	return r.Reserved, true
}

// ByKind returns the realm reserved for k.
func (c *Catalog) ByKind(k Kind) (*Realm, bool) {
	r, ok := c.byKind[k]
	return r, ok
}

// Config returns the document the catalog was built from.
func (c *Catalog) Config() Config { return c.cfg }

// IDs lists realm ids in ascending order.
func (c *Catalog) IDs() []uint16 {
	out := make([]uint16, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
