package cli

import "strings"

// OutputFormat represents the output format type.
type OutputFormat string

const (
	OutputFormatTable    OutputFormat = "table"
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatYAML     OutputFormat = "yaml"
	OutputFormatJSONPath OutputFormat = "jsonpath"
)

const jsonPathPrefix = "jsonpath="

// OutputFlags provides output formatting flags.
type OutputFlags struct {
	Output string `short:"o" help:"Output format: table, json, yaml, jsonpath=EXPR." default:"table"`
}

// Format returns the base format type.
func (f *OutputFlags) Format() OutputFormat {
	switch {
	case f.Output == "json":
		return OutputFormatJSON
	case f.Output == "yaml":
		return OutputFormatYAML
	case len(f.Output) > len(jsonPathPrefix) && strings.HasPrefix(f.Output, jsonPathPrefix):
		return OutputFormatJSONPath
	default:
		return OutputFormatTable
	}
}

// JSONPathExpr returns the JSONPath expression if format is jsonpath=EXPR.
func (f *OutputFlags) JSONPathExpr() string {
	if f.Format() == OutputFormatJSONPath {
		return f.Output[len(jsonPathPrefix):]
	}
	return ""
}

// ExportFlags is OutputFlags defaulting to YAML.
type ExportFlags struct {
	Output string `short:"o" help:"Output format: yaml, json, jsonpath=EXPR." default:"yaml"`
}

// Flags returns the equivalent OutputFlags.
func (f *ExportFlags) Flags() *OutputFlags {
	return &OutputFlags{Output: f.Output}
}
