package plan

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	runweaveerrors "github.com/runweave/runweave/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseFile loads a plan document from disk, validates it, and returns the
// resulting model.
func ParseFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, runweaveerrors.NewParseError(path, 0, err)
	}

	return Parse(path, data)
}

// Parse decodes and validates a plan document from raw bytes. The path is
// used only for error reporting.
func Parse(path string, data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, runweaveerrors.NewParseError(path, extractLine(err), err)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}

	return &p, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
