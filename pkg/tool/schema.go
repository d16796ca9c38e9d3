package tool

import (
	"bytes"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONSchema describes the tool's parameters as a draft 2020-12 object schema
// with no references, suitable for function-calling APIs and MCP.
func (s Spec) JSONSchema() *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema, len(s.Params)),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	for _, p := range s.Params {
		ps := &jsonschema.Schema{Description: p.Description}
		switch p.Type {
		case TypeString:
			ps.Type = "string"
		case TypeInteger:
			ps.Type = "integer"
		case TypeFloat:
			ps.Type = "number"
		case TypeEnum:
			ps.Type = "string"
			for _, e := range p.Enum {
				ps.Enum = append(ps.Enum, e)
			}
		}
		ps.Minimum = p.Min
		ps.Maximum = p.Max
		if p.Default != nil {
			if b, err := json.Marshal(p.Default); err == nil {
				ps.Default = b
			}
		}
		out.Properties[p.Name] = ps
		if p.Required {
			out.Required = append(out.Required, p.Name)
		}
	}
	return out
}

// SchemaJSON marshals JSONSchema.
func (s Spec) SchemaJSON() ([]byte, error) {
	return json.Marshal(s.JSONSchema())
}

// compileSchema compiles a JSON schema document with santhosh-tekuri/jsonschema.
func compileSchema(schema []byte) (*santhosh.Schema, error) {
	doc, err := santhosh.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, err
	}
	c := santhosh.NewCompiler()
	if err := c.AddResource("mem://schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("mem://schema.json")
}

// validateAgainst checks bound params against a compiled schema. Values are
// round-tripped through JSON so Go numeric types reach the validator as numbers.
func validateAgainst(sch *santhosh.Schema, p Params) error {
	if sch == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	v, err := santhosh.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return sch.Validate(v)
}
