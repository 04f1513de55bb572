package mcpconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrExists is returned by WriteDefault when the target exists and overwrite
// was not requested.
var ErrExists = errors.New("mcpconfig: configuration file already exists")

func ptr[T any](v T) *T { return &v }

func starterDocument() document {
	return document{
		MCPServers: map[string]rawServer{
			"filesystem": {
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "${HOME}"},
				Config: rawServerConfig{
					Instruction:   "Read and search files under the home directory.",
					ToolBlacklist: []string{"write_file"},
				},
			},
			"fetch": {
				Command:  "uvx",
				Args:     []string{"mcp-server-fetch"},
				Disabled: ptr(true),
				Config: rawServerConfig{
					Instruction:         "Fetch web pages as markdown.",
					OmitToolDescription: ptr(true),
				},
			},
		},
	}
}

// WriteDefault writes a starter configuration to path, encoded by extension.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("mcpconfig: stat %s: %w", path, err)
		}
	}

	doc := starterDocument()
	var (
		data []byte
		err  error
	)
	if FormatForPath(path) == FormatYAML {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("mcpconfig: encode starter config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mcpconfig: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("mcpconfig: write %s: %w", path, err)
	}
	return nil
}
