package template

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
)

// definition is the YAML shape of a template file
type definition struct {
	Code         string           `yaml:"code"`
	Name         string           `yaml:"name"`
	BusinessType string           `yaml:"business_type"`
	Category     string           `yaml:"category"`
	Nodes        []nodeDefinition `yaml:"nodes"`
}

type nodeDefinition struct {
	Index    *int                `yaml:"index"`
	Name     string              `yaml:"name"`
	Type     entity.NodeType     `yaml:"type"`
	Assignee entity.AssigneeRule `yaml:"assignee"`
}

// LoadDir parses every *.yaml and *.yml file under dir, sorted by path
func LoadDir(dir string) ([]*entity.WorkflowTemplate, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
	}
	sort.Strings(paths)

	var templates []*entity.WorkflowTemplate
	for _, path := range paths {
		tpls, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpls...)
	}
	return templates, nil
}

// LoadFile parses a YAML file holding one or more template documents
func LoadFile(path string) ([]*entity.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	tpls, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return tpls, nil
}

// Parse decodes YAML template documents and validates each one
func Parse(data []byte) ([]*entity.WorkflowTemplate, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var templates []*entity.WorkflowTemplate
	for {
		var def definition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		tpl := def.toTemplate()
		if err := tpl.Validate(); err != nil {
			return nil, err
		}
		sum, err := Checksum(tpl)
		if err != nil {
			return nil, err
		}
		tpl.Checksum = sum
		templates = append(templates, tpl)
	}
	return templates, nil
}

func (d definition) toTemplate() *entity.WorkflowTemplate {
	nodes := make([]entity.NodeSpec, len(d.Nodes))
	for i, n := range d.Nodes {
		index := i
		if n.Index != nil {
			index = *n.Index
		}
		nodeType := n.Type
		if nodeType == "" {
			nodeType = entity.NodeTypeApproval
		}
		nodes[i] = entity.NodeSpec{
			Index:    index,
			Name:     n.Name,
			Type:     nodeType,
			Assignee: n.Assignee,
		}
	}

	return &entity.WorkflowTemplate{
		Code:         d.Code,
		Name:         d.Name,
		BusinessType: d.BusinessType,
		Category:     d.Category,
		Nodes:        nodes,
	}
}

// Checksum fingerprints the parts of a template that affect execution
func Checksum(tpl *entity.WorkflowTemplate) (string, error) {
	canonical, err := json.Marshal(struct {
		Code         string            `json:"code"`
		Name         string            `json:"name"`
		BusinessType string            `json:"business_type"`
		Category     string            `json:"category"`
		Nodes        []entity.NodeSpec `json:"nodes"`
	}{tpl.Code, tpl.Name, tpl.BusinessType, tpl.Category, tpl.Nodes})
	if err != nil {
		return "", fmt.Errorf("encoding template %s: %w", tpl.Code, err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(canonical)), nil
}
