package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads a list of credentials from path. Files ending in .yaml or .yml
// are parsed as YAML; anything else as JSON, which may contain comments.
func Load(path string) ([]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	var creds []Credential
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &creds)
	default:
		err = json.Unmarshal(jsonc.ToJSON(data), &creds)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to parse contents of %s: %w", path, err)
	}

	for i, c := range creds {
		if len(c.Username) == 0 {
			return nil, fmt.Errorf("entry %d of %s has no username", i, path)
		}
	}
	return creds, nil
}
