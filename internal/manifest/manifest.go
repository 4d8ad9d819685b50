// Package manifest loads deployment manifests and turns them into the
// domain objects the placement planner works on.
//
// A manifest is a YAML document:
//
//	name: simple
//	azs:
//	  - name: z1
//	networks:
//	  - name: private
//	    type: manual
//	    subnets:
//	      - range: 192.168.1.0/24
//	        gateway: 192.168.1.1
//	        static: [192.168.1.10 - 192.168.1.20]
//	        az: z1
//	instance_groups:
//	  - name: web
//	    instances: 2
//	    azs: [z1]
//	    networks:
//	      - name: private
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest marks a document that could not be decoded or failed
// struct validation.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is the raw decoded document
type Manifest struct {
	Name           string          `yaml:"name" validate:"required"`
	AZs            []AZ            `yaml:"azs" validate:"unique=Name,dive"`
	Networks       []Network       `yaml:"networks" validate:"required,unique=Name,dive"`
	InstanceGroups []InstanceGroup `yaml:"instance_groups" validate:"unique=Name,dive"`
}

// AZ is an availability zone declaration
type AZ struct {
	Name            string         `yaml:"name" validate:"required"`
	CloudProperties map[string]any `yaml:"cloud_properties"`
}

// Network is a network declaration. Type defaults to manual.
type Network struct {
	Name    string   `yaml:"name" validate:"required"`
	Type    string   `yaml:"type" validate:"omitempty,oneof=manual dynamic vip"`
	Subnets []Subnet `yaml:"subnets" validate:"dive"`
}

// Subnet is one subnet of a network
type Subnet struct {
	Range           string         `yaml:"range"`
	Gateway         string         `yaml:"gateway"`
	Reserved        StringList     `yaml:"reserved"`
	Static          StringList     `yaml:"static"`
	AZ              string         `yaml:"az"`
	AZs             []string       `yaml:"azs"`
	Prefix          int            `yaml:"prefix" validate:"gte=0"`
	DNS             []string       `yaml:"dns" validate:"dive,ip"`
	CloudProperties map[string]any `yaml:"cloud_properties"`
}

// InstanceGroup is an instance group declaration
type InstanceGroup struct {
	Name               string       `yaml:"name" validate:"required"`
	Instances          int          `yaml:"instances" validate:"gte=0"`
	AZs                []string     `yaml:"azs"`
	Networks           []JobNetwork `yaml:"networks" validate:"required,unique=Name,dive"`
	VMType             string       `yaml:"vm_type"`
	VMExtensions       []string     `yaml:"vm_extensions"`
	PersistentDiskSize int          `yaml:"persistent_disk" validate:"gte=0"`
}

// JobNetwork attaches an instance group to a network
type JobNetwork struct {
	Name      string     `yaml:"name" validate:"required"`
	StaticIPs StringList `yaml:"static_ips"`
	Default   []string   `yaml:"default"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidManifest)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate runs the struct-level checks.
func (m *Manifest) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Manifest.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "unique":
		return fmt.Sprintf("'%s' has duplicate names", field)
	case "oneof":
		return fmt.Sprintf("'%s' must be one of [%s], got '%v'", field, fe.Param(), fe.Value())
	case "ip":
		return fmt.Sprintf("'%s' must be an IP address, got '%v'", field, fe.Value())
	case "gte":
		return fmt.Sprintf("'%s' must be at least %s", field, fe.Param())
	}
	return fmt.Sprintf("'%s' failed '%s' validation", field, fe.Tag())
}
