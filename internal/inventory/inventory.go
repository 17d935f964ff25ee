package inventory

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	ConnectionSSH   = "ssh"
	ConnectionLocal = "local"
)

// Inventory is the parsed inventory file.
type Inventory struct {
	// Vars apply to every host unless the host overrides them.
	Vars  map[string]string `yaml:"vars"`
	Site  Site              `yaml:"site"`
	Hosts []HostEntry       `yaml:"hosts"`
}

// HostEntry is one host as written in the inventory file.
type HostEntry struct {
	Name       string            `yaml:"name"`
	Address    string            `yaml:"address"`
	Port       int               `yaml:"port"`
	User       string            `yaml:"user"`
	Connection string            `yaml:"connection"`
	Vars       map[string]string `yaml:"vars"`
}

// HostTarget is a host with its variables resolved. Name is the managed
// domain and must resolve to the host itself for certificate issuance.
type HostTarget struct {
	Name       string `validate:"required,fqdn"`
	AdminEmail string `validate:"required,email"`
	Address    string `validate:"required_if=Connection ssh"`
	Port       int    `validate:"omitempty,min=1,max=65535"`
	User       string
	Connection string `validate:"oneof=ssh local"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Bad schedules must fail before the first phase touches a host.
	_ = v.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		_, err := Calendar(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads and validates an inventory file.
func Load(p string) (*Inventory, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return Parse(data)
}

// Parse decodes inventory YAML on top of DefaultSite and validates it.
func Parse(data []byte) (*Inventory, error) {
	inv := Inventory{Site: DefaultSite()}
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	inv.Site.resolve()

	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Validate checks the site settings and every host target.
func (inv *Inventory) Validate() error {
	var errs []error
	if len(inv.Hosts) == 0 {
		errs = append(errs, errors.New("inventory has no hosts"))
	}
	if err := validate.Struct(inv.Site); err != nil {
		errs = append(errs, fmt.Errorf("site: %w", describe(err)))
	}

	seen := make(map[string]bool)
	for i, t := range inv.Targets() {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("host %q: duplicate name", t.Name))
		}
		seen[t.Name] = true
		if err := validate.Struct(t); err != nil {
			name := t.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			errs = append(errs, fmt.Errorf("host %s: %w", name, describe(err)))
		}
	}
	return errors.Join(errs...)
}

// Targets resolves every host entry against the group variables.
func (inv *Inventory) Targets() []HostTarget {
	out := make([]HostTarget, 0, len(inv.Hosts))
	for _, h := range inv.Hosts {
		conn := h.Connection
		if conn == "" {
			conn = ConnectionSSH
		}
		addr := h.Address
		if addr == "" && conn == ConnectionSSH {
			addr = h.Name
		}
		out = append(out, HostTarget{
			Name:       h.Name,
			AdminEmail: inv.lookup(h, "admin_email"),
			Address:    addr,
			Port:       h.Port,
			User:       h.User,
			Connection: conn,
		})
	}
	return out
}

// Limit returns the targets whose name matches the glob pattern. An empty
// pattern selects everything.
func Limit(targets []HostTarget, pattern string) ([]HostTarget, error) {
	if pattern == "" {
		return targets, nil
	}
	var out []HostTarget
	for _, t := range targets {
		ok, err := path.Match(pattern, t.Name)
		if err != nil {
			return nil, fmt.Errorf("limit pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("limit %q matched no hosts", pattern)
	}
	return out, nil
}

func (inv *Inventory) lookup(h HostEntry, key string) string {
	if v, ok := h.Vars[key]; ok {
		return v
	}
	return inv.Vars[key]
}

// describe flattens validator errors into one readable line.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Site.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
