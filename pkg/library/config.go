package library

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/walteh/livetmpl/pkg/template"
)

// File is one template library file. The same schema is read from HCL and YAML.
type File struct {
	Group     string          `hcl:"group,optional" yaml:"group,omitempty"`
	Templates []*TemplateSpec `hcl:"template,block" yaml:"templates"`
}

type TemplateSpec struct {
	Key          string          `hcl:"key,label" yaml:"key"`
	Description  string          `hcl:"description,optional" yaml:"description,omitempty"`
	Body         string          `hcl:"body" yaml:"body"`
	Inline       bool            `hcl:"inline,optional" yaml:"inline,omitempty"`
	Reformat     *bool           `hcl:"reformat,optional" yaml:"reformat,omitempty"`
	Indent       *bool           `hcl:"indent,optional" yaml:"indent,omitempty"`
	ShortenNames *bool           `hcl:"shorten_names,optional" yaml:"shorten_names,omitempty"`
	Variables    []*VariableSpec `hcl:"variable,block" yaml:"variables,omitempty"`
}

type VariableSpec struct {
	Name        string `hcl:"name,label" yaml:"name"`
	Expression  string `hcl:"expression,optional" yaml:"expression,omitempty"`
	Default     string `hcl:"default,optional" yaml:"default,omitempty"`
	AlwaysStop  bool   `hcl:"always_stop,optional" yaml:"always_stop,omitempty"`
	SkipOnStart bool   `hcl:"skip_on_start,optional" yaml:"skip_on_start,omitempty"`
}

// ParseFile decodes a library file. YAML is chosen by extension, anything else is HCL.
// HCL bodies can refer to the file's default group as ${group}.
func ParseFile(path string, data []byte) (*File, error) {
	group := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var f File
	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&f); err != nil {
			return nil, errors.Errorf("parsing YAML %s: %w", path, err)
		}
	} else {
		parser := hclparse.NewParser()
		hclFile, diags := parser.ParseHCL(data, path)
		if diags.HasErrors() {
			return nil, errors.Errorf("parsing HCL %s: %s", path, diags.Error())
		}
		ctx := &hcl.EvalContext{
			Variables: map[string]cty.Value{
				"group": cty.StringVal(group),
			},
		}
		if diags := gohcl.DecodeBody(hclFile.Body, ctx, &f); diags.HasErrors() {
			return nil, errors.Errorf("decoding HCL %s: %s", path, diags.Error())
		}
	}

	if f.Group == "" {
		f.Group = group
	}
	return &f, nil
}

// Template builds the unparsed template described by spec.
func (me *TemplateSpec) Template(group string) *template.Template {
	t := template.New(me.Key, me.Body)
	t.Group = group
	t.Description = me.Description
	t.Inline = me.Inline
	if me.Reformat != nil {
		t.ToReformat = *me.Reformat
	}
	if me.Indent != nil {
		t.ToIndent = *me.Indent
	}
	if me.ShortenNames != nil {
		t.ToShortenNames = *me.ShortenNames
	}
	for _, v := range me.Variables {
		t.AddVariable(template.Variable{
			Name:        v.Name,
			Expression:  v.Expression,
			Default:     v.Default,
			AlwaysStop:  v.AlwaysStop,
			SkipOnStart: v.SkipOnStart,
		})
	}
	return t
}
