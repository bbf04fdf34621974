package ingestion

import (
	"fmt"
	"sort"
	"strings"

	"brain/internal/types"
)

// Flatten renders a structured record as pseudo-text for the extraction
// pipeline. Explicit textual data wins; otherwise the JSON payload becomes
// sorted "key: value" lines with dotted paths for nested objects.
func Flatten(record *types.StructuredData) string {
	if strings.TrimSpace(record.TextualData) != "" {
		return record.TextualData
	}
	lines := flattenJSON(record.JSONData, "")
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func flattenJSON(m map[string]interface{}, prefix string) []string {
	var lines []string
	for key, value := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]interface{}:
			lines = append(lines, flattenJSON(v, path)...)
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if nested, ok := item.(map[string]interface{}); ok {
					lines = append(lines, flattenJSON(nested, path)...)
					continue
				}
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			if len(parts) > 0 {
				lines = append(lines, fmt.Sprintf("%s: %s", path, strings.Join(parts, ", ")))
			}
		case nil:
			// skip
		default:
			lines = append(lines, fmt.Sprintf("%s: %v", path, v))
		}
	}
	return lines
}

// TargetingNode derives the node a structured record is about, from its
// declared types and identification parameters. Returns nil when the record
// does not identify a subject.
func TargetingNode(record *types.StructuredData) *types.Node {
	if len(record.IdentificationParams) == 0 {
		return nil
	}
	name := types.ExtractString(record.IdentificationParams["name"])
	if name == "" {
		// Any single identifying value serves as the subject name.
		keys := make([]string, 0, len(record.IdentificationParams))
		for k := range record.IdentificationParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v := types.ExtractString(record.IdentificationParams[k]); v != "" {
				name = v
				break
			}
		}
	}
	if name == "" {
		return nil
	}

	labels := make([]string, 0, len(record.Types))
	for _, t := range record.Types {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			labels = append(labels, t)
		}
	}
	node := types.NewNode(name, labels...)
	for k, v := range record.IdentificationParams {
		node.SetProperty(k, v)
	}
	return node
}
