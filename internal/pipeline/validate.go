package pipeline

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/prefab-labs/prefab-gateway/internal/domain"
)

// validateInputs checks the call inputs against the function contract:
// required parameters present, no unknown parameters, runtime types
// matching their declarations. Returns an empty string when valid.
func validateInputs(fn domain.FunctionSpec, inputs map[string]any) string {
	declared := make(map[string]domain.ParameterSpec, len(fn.Parameters))
	for _, param := range fn.Parameters {
		declared[param.Name] = param
	}

	for _, param := range fn.Parameters {
		if _, present := inputs[param.Name]; !present && param.Required {
			return fmt.Sprintf("required parameter %q is missing", param.Name)
		}
	}
	for name, value := range inputs {
		param, ok := declared[name]
		if !ok {
			return fmt.Sprintf("unknown parameter %q", name)
		}
		if msg := checkType(param, value); msg != "" {
			return msg
		}
	}
	return ""
}

func checkType(param domain.ParameterSpec, value any) string {
	if value == nil {
		if param.Required {
			return fmt.Sprintf("required parameter %q is null", param.Name)
		}
		return ""
	}
	switch param.Type {
	case domain.TypeString, domain.TypeInputFile:
		if _, ok := value.(string); !ok {
			return typeMismatch(param, value)
		}
	case domain.TypeNumber:
		if !isNumber(value) {
			return typeMismatch(param, value)
		}
	case domain.TypeInteger:
		if !isInteger(value) {
			return typeMismatch(param, value)
		}
	case domain.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return typeMismatch(param, value)
		}
	case domain.TypeArray:
		if _, ok := value.([]any); !ok {
			return typeMismatch(param, value)
		}
	case domain.TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return typeMismatch(param, value)
		}
	default:
		return fmt.Sprintf("parameter %q has unsupported declared type %q", param.Name, param.Type)
	}
	return ""
}

func typeMismatch(param domain.ParameterSpec, value any) string {
	return fmt.Sprintf("parameter %q must be %s, got %T", param.Name, param.Type, value)
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float64, int, int64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

// isInteger accepts whole-valued floats because JSON decoding yields
// float64 for every number.
func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int64:
		return true
	case float64:
		return v == math.Trunc(v)
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}
