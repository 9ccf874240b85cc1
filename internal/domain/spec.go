package domain

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parameter and return types as declared in prefab manifests.
const (
	TypeString     = "string"
	TypeNumber     = "number"
	TypeInteger    = "integer"
	TypeBoolean    = "boolean"
	TypeArray      = "array"
	TypeObject     = "object"
	TypeInputFile  = "InputFile"
	TypeOutputFile = "OutputFile"
)

type ParameterSpec struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
}

func (p ParameterSpec) IsInputFile() bool { return p.Type == TypeInputFile }

type SecretSpec struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required" yaml:"required"`
}

type ReturnSpec struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

func (r ReturnSpec) IsOutputFile() bool { return r.Type == TypeOutputFile }

type FunctionSpec struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  []ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Secrets     []SecretSpec    `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	Returns     []ReturnSpec    `json:"returns,omitempty" yaml:"returns,omitempty"`
}

// InterfaceSpec is the declared contract of one deployed prefab version.
// Read-only per call; staleness relative to the deployed service surfaces
// as validation errors, never silent corruption.
type InterfaceSpec struct {
	PrefabID    string         `json:"prefab_id" yaml:"prefab_id"`
	Version     string         `json:"version" yaml:"version"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Functions   []FunctionSpec `json:"functions" yaml:"functions"`
}

func (s InterfaceSpec) Function(name string) (FunctionSpec, bool) {
	for _, fn := range s.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return FunctionSpec{}, false
}

// ParseManifest decodes a prefab manifest from YAML or JSON and
// validates it. JSON is a subset of YAML, so one decoder covers both.
func ParseManifest(input []byte) (InterfaceSpec, error) {
	var spec InterfaceSpec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return InterfaceSpec{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return InterfaceSpec{}, err
	}
	return spec, nil
}

func validParamType(t string) bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject, TypeInputFile:
		return true
	}
	return false
}

func validReturnType(t string) bool {
	if t == TypeOutputFile {
		return true
	}
	return t != TypeInputFile && validParamType(t)
}

func (s InterfaceSpec) Validate() error {
	if strings.TrimSpace(s.PrefabID) == "" {
		return errors.New("manifest.prefab_id is required")
	}
	if strings.TrimSpace(s.Version) == "" {
		return errors.New("manifest.version is required")
	}
	if len(s.Functions) == 0 {
		return errors.New("manifest.functions must be non-empty")
	}

	seenFn := make(map[string]struct{}, len(s.Functions))
	for i, fn := range s.Functions {
		name := strings.TrimSpace(fn.Name)
		if name == "" {
			return fmt.Errorf("manifest.functions[%d].name is required", i)
		}
		if _, ok := seenFn[name]; ok {
			return fmt.Errorf("manifest.functions[%d].name must be unique (duplicate %q)", i, name)
		}
		seenFn[name] = struct{}{}

		seenParam := make(map[string]struct{}, len(fn.Parameters))
		for j, param := range fn.Parameters {
			if strings.TrimSpace(param.Name) == "" {
				return fmt.Errorf("manifest.functions[%d].parameters[%d].name is required", i, j)
			}
			if _, ok := seenParam[param.Name]; ok {
				return fmt.Errorf("function %q: duplicate parameter %q", name, param.Name)
			}
			seenParam[param.Name] = struct{}{}
			if !validParamType(param.Type) {
				return fmt.Errorf("function %q: parameter %q has unsupported type %q", name, param.Name, param.Type)
			}
		}

		seenSecret := make(map[string]struct{}, len(fn.Secrets))
		for j, secret := range fn.Secrets {
			if strings.TrimSpace(secret.Name) == "" {
				return fmt.Errorf("manifest.functions[%d].secrets[%d].name is required", i, j)
			}
			if _, ok := seenSecret[secret.Name]; ok {
				return fmt.Errorf("function %q: duplicate secret %q", name, secret.Name)
			}
			seenSecret[secret.Name] = struct{}{}
		}

		seenReturn := make(map[string]struct{}, len(fn.Returns))
		for j, ret := range fn.Returns {
			if strings.TrimSpace(ret.Name) == "" {
				return fmt.Errorf("manifest.functions[%d].returns[%d].name is required", i, j)
			}
			if _, ok := seenReturn[ret.Name]; ok {
				return fmt.Errorf("function %q: duplicate return %q", name, ret.Name)
			}
			seenReturn[ret.Name] = struct{}{}
			if !validReturnType(ret.Type) {
				return fmt.Errorf("function %q: return %q has unsupported type %q", name, ret.Name, ret.Type)
			}
		}
	}
	return nil
}
