package enricher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
)

// Extractor applies mapping rules to a raw JSON response and produces a
// claim name → value map. Values are strings or ordered []string.
type Extractor struct {
	logger logging.Logger
}

// NewExtractor creates an extractor
func NewExtractor(logger logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Extractor{logger: logger}
}

// Extract resolves each rule independently against the document. A rule whose
// field is missing or null is skipped; a failing rule does not abort the
// remaining ones. An unparsable document yields an empty map and an error.
func (x *Extractor) Extract(rawJSON []byte, rules []MappingRule) (map[string]interface{}, error) {
	claims := make(map[string]interface{})

	if len(rawJSON) == 0 || len(rules) == 0 {
		return claims, nil
	}

	var root interface{}
	if err := json.Unmarshal(rawJSON, &root); err != nil {
		return claims, errors.ParseError("failed to parse response document", err)
	}

	for _, rule := range rules {
		value, err := x.resolve(root, rule)
		if err != nil {
			x.logger.Warn("Error applying mapping rule",
				logging.String("rule", rule.String()),
				logging.String("error", err.Error()))
			continue
		}
		if value == nil {
			x.logger.Debug("Mapping rule resolved to nothing",
				logging.String("field", rule.SourceField))
			continue
		}
		claims[rule.ClaimName] = value
	}

	return claims, nil
}

func (x *Extractor) resolve(root interface{}, rule MappingRule) (interface{}, error) {
	if rule.IsPathQuery() {
		return x.resolvePath(root, rule.SourceField)
	}
	return x.resolveField(root, rule.SourceField)
}

// resolveField looks up a direct top-level key of the parsed document
func (x *Extractor) resolveField(root interface{}, field string) (interface{}, error) {
	obj, ok := root.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("document root is not an object")
	}
	value, ok := obj[field]
	if !ok || value == nil {
		return nil, nil
	}
	return normalize(value), nil
}

// resolvePath evaluates a JSONPath expression against the parsed document
func (x *Extractor) resolvePath(root interface{}, expression string) (interface{}, error) {
	value, err := jsonpath.Get(expression, root)
	if err != nil {
		// An unmatched path is expected for optional fields
		if strings.Contains(err.Error(), "unknown key") || strings.Contains(err.Error(), "unknown parameter") {
			x.logger.Debug("JSONPath not found in response",
				logging.String("path", expression))
			return nil, nil
		}
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	return normalize(value), nil
}

// normalize coerces a resolved JSON value: arrays become []string with null
// elements as "", a single-element array collapses to its scalar, an empty
// array becomes nil, and scalars become their string representation.
func normalize(value interface{}) interface{} {
	if list, ok := value.([]interface{}); ok {
		result := make([]string, 0, len(list))
		for _, item := range list {
			if item == nil {
				result = append(result, "")
			} else {
				result = append(result, stringify(item))
			}
		}
		switch len(result) {
		case 0:
			return nil
		case 1:
			return result[0]
		default:
			return result
		}
	}
	return stringify(value)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// Render integral numbers without a decimal point
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
