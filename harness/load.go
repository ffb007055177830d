package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/viant/afs"
	"golang.org/x/tools/txtar"
	"gopkg.in/yaml.v3"
)

// Load reads test cases from a JSON, YAML or txtar file
func Load(ctx context.Context, URL string) ([]*TestCase, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read test cases %v: %w", URL, err)
	}
	return Parse(path.Base(URL), data)
}

// Parse decodes test cases, choosing the format by the extension of name (JSON when unknown)
func Parse(name string, data []byte) ([]*TestCase, error) {
	var (
		cases []*TestCase
		err   error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cases)
	case ".txtar":
		cases, err = parseArchive(data)
	default:
		err = json.Unmarshal(bytes.TrimSpace(data), &cases)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse test cases %v: %w", name, err)
	}
	for _, tc := range cases {
		tc.Code = Dedent(tc.Code)
		if err = tc.Validate(); err != nil {
			return nil, err
		}
	}
	return cases, nil
}

// parseArchive pairs each <name>.rs file with the expectations in <name>.yaml
func parseArchive(data []byte) ([]*TestCase, error) {
	archive := txtar.Parse(data)
	sources := map[string]string{}
	expectations := map[string][]byte{}
	var names []string
	for _, file := range archive.Files {
		ext := path.Ext(file.Name)
		name := strings.TrimSuffix(file.Name, ext)
		switch ext {
		case ".rs":
			sources[name] = string(file.Data)
			names = append(names, name)
		case ".yaml", ".yml":
			expectations[name] = file.Data
		default:
			return nil, fmt.Errorf("unsupported archive file: %v", file.Name)
		}
	}
	var ret []*TestCase
	for _, name := range names {
		expectation, ok := expectations[name]
		if !ok {
			return nil, fmt.Errorf("missing expectations for %v", name)
		}
		tc := &TestCase{}
		if err := yaml.Unmarshal(expectation, tc); err != nil {
			return nil, fmt.Errorf("failed to decode expectations of %v: %w", name, err)
		}
		if tc.Name == "" {
			tc.Name = name
		}
		tc.Code = sources[name]
		ret = append(ret, tc)
	}
	return ret, nil
}
