package nodetype

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
)

//go:embed builtin_types.yaml
var builtinTypesYAML embed.FS

// manifestType is the YAML shape for one built-in node type, following
// the same flat-manifest style the teacher uses for its schema seed
// data (pkg/config's yaml.v3-decoded manifests).
type manifestType struct {
	Name       string             `yaml:"name"`
	IsMixin    bool               `yaml:"isMixin"`
	Supertypes []string           `yaml:"supertypes"`
	ChildNodes []manifestChildDef `yaml:"childNodes"`
	Properties []manifestPropDef  `yaml:"properties"`
}

type manifestChildDef struct {
	Name                   string   `yaml:"name"`
	RequiredPrimaryTypes   []string `yaml:"requiredPrimaryTypes"`
	DefaultPrimaryType     string   `yaml:"defaultPrimaryType"`
	AllowsSameNameSiblings bool     `yaml:"sameNameSiblings"`
	Mandatory              bool     `yaml:"mandatory"`
	Protected              bool     `yaml:"protected"`
	AutoCreated            bool     `yaml:"autoCreated"`
}

type manifestPropDef struct {
	Name             string   `yaml:"name"`
	RequiredType     string   `yaml:"requiredType"`
	Multiple         bool     `yaml:"multiple"`
	Mandatory        bool     `yaml:"mandatory"`
	Protected        bool     `yaml:"protected"`
	AutoCreated      bool     `yaml:"autoCreated"`
	ValueConstraints []string `yaml:"valueConstraints"`
}

// LoadBuiltins parses the embedded built-in node-type manifest and
// registers each type in order (supertypes must precede their
// descendants, same as nt:base before nt:unstructured in the manifest).
func LoadBuiltins(r *Registry) error {
	raw, err := builtinTypesYAML.ReadFile("builtin_types.yaml")
	if err != nil {
		return fmt.Errorf("nodetype: reading builtin manifest: %w", err)
	}

	var manifest []manifestType
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("nodetype: parsing builtin manifest: %w", err)
	}

	for _, mt := range manifest {
		def, err := mt.toDefinition()
		if err != nil {
			return fmt.Errorf("nodetype: builtin type %s: %w", mt.Name, err)
		}
		if err := r.Register(def); err != nil {
			return fmt.Errorf("nodetype: registering builtin type %s: %w", mt.Name, err)
		}
	}
	return nil
}

func (mt manifestType) toDefinition() (*Definition, error) {
	def := &Definition{
		Name:    parseBuiltinQName(mt.Name),
		IsMixin: mt.IsMixin,
	}
	for _, s := range mt.Supertypes {
		def.Supertypes = append(def.Supertypes, parseBuiltinQName(s))
	}
	for _, cn := range mt.ChildNodes {
		cnDef := ChildNodeDef{
			Name:                   parseResidualAwareQName(cn.Name),
			DefaultPrimaryType:     parseBuiltinQName(cn.DefaultPrimaryType),
			AllowsSameNameSiblings: cn.AllowsSameNameSiblings,
			Mandatory:              cn.Mandatory,
			Protected:              cn.Protected,
			AutoCreated:            cn.AutoCreated,
		}
		for _, rt := range cn.RequiredPrimaryTypes {
			cnDef.RequiredPrimaryTypes = append(cnDef.RequiredPrimaryTypes, parseBuiltinQName(rt))
		}
		def.ChildNodes = append(def.ChildNodes, cnDef)
	}
	for _, p := range mt.Properties {
		vt, err := parseValueType(p.RequiredType)
		if err != nil {
			return nil, err
		}
		def.Properties = append(def.Properties, PropertyDef{
			Name:             parseResidualAwareQName(p.Name),
			RequiredType:     vt,
			Multiple:         p.Multiple,
			Mandatory:        p.Mandatory,
			Protected:        p.Protected,
			AutoCreated:      p.AutoCreated,
			ValueConstraints: p.ValueConstraints,
		})
	}
	return def, nil
}

// parseBuiltinQName treats the manifest's prefixed spelling
// ("nt:unstructured") as the local part of a default-namespace QName,
// matching the convention used throughout this codebase's tests and
// fixtures; a session wanting prefix-remapped names goes through
// name.Resolver instead.
func parseBuiltinQName(qualified string) name.QName {
	if qualified == "" {
		return name.QName{}
	}
	return name.NewQName("", qualified)
}

// parseResidualAwareQName treats "*" as the residual (zero QName) item
// definition name, per spec.md's "*" wildcard convention.
func parseResidualAwareQName(qualified string) name.QName {
	if qualified == "*" || qualified == "" {
		return name.QName{}
	}
	return parseBuiltinQName(qualified)
}

func parseValueType(s string) (itemstate.ValueType, error) {
	switch s {
	case "", "Undefined":
		return itemstate.TypeUndefined, nil
	case "String":
		return itemstate.TypeString, nil
	case "Long":
		return itemstate.TypeLong, nil
	case "Double":
		return itemstate.TypeDouble, nil
	case "Boolean":
		return itemstate.TypeBoolean, nil
	case "Date":
		return itemstate.TypeDate, nil
	case "Binary":
		return itemstate.TypeBinary, nil
	case "Name":
		return itemstate.TypeName, nil
	case "Path":
		return itemstate.TypePath, nil
	case "Reference":
		return itemstate.TypeReference, nil
	default:
		return itemstate.TypeUndefined, fmt.Errorf("unknown property type %q", s)
	}
}
