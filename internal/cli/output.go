package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// EvalResult is the printable outcome of one flag evaluation.
type EvalResult struct {
	Key          string         `json:"key" yaml:"key"`
	Type         string         `json:"type" yaml:"type"`
	Value        any            `json:"value" yaml:"value"`
	Variant      string         `json:"variant,omitempty" yaml:"variant,omitempty"`
	Reason       string         `json:"reason" yaml:"reason"`
	ErrorCode    string         `json:"errorCode,omitempty" yaml:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// PrintResult writes an evaluation result in the specified format.
func PrintResult(w io.Writer, res EvalResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, res)
	case FormatYAML:
		return printYAML(w, res)
	case FormatTable:
		return printTable(w, res)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printTable(w io.Writer, res EvalResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("Key", "Type", "Value", "Variant", "Reason", "Error")

	errText := res.ErrorCode
	if res.ErrorMessage != "" {
		errText += ": " + res.ErrorMessage
	}

	value := formatValue(res.Value)
	if len(value) > 60 {
		value = value[:57] + "..."
	}

	table.Append(res.Key, res.Type, value, res.Variant, res.Reason, errText)
	return table.Render()
}

// formatValue renders scalars plainly and objects as compact JSON.
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}
