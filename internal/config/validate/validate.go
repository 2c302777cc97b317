package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"
)

//go:embed schema/package.schema.json
var packageSchema []byte

//go:embed schema/config.schema.json
var configSchema []byte

const (
	PackageSchemaName = "package.schema.json"
	ConfigSchemaName  = "config.schema.json"
)

// ValidateAgainstSchema compiles schema under name and validates the JSON
// document data against it. ref selects a sub-schema ("#/$defs/x") and may
// be empty.
func ValidateAgainstSchema(name string, schema, data []byte, ref string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("loading schema %s: %w", name, err)
	}
	sch, err := compiler.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("compiling schema %s%s: %w", name, ref, err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("schema validation against %s failed: %s", name, ve.Error())
		}
		return fmt.Errorf("schema validation against %s failed: %w", name, err)
	}
	return nil
}

// ValidatePackageJSON validates a package descriptor in JSON form.
func ValidatePackageJSON(data []byte) error {
	return ValidateAgainstSchema(PackageSchemaName, packageSchema, data, "")
}

// ValidatePackageYAML validates a package descriptor in YAML form.
func ValidatePackageYAML(data []byte) error {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return ValidatePackageJSON(jsonData)
}

// ValidateConfigJSON validates a retros.yml document in JSON form. A null
// document is an empty configuration and passes.
func ValidateConfigJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return ValidateAgainstSchema(ConfigSchemaName, configSchema, data, "")
}

// ValidateConfigYAML validates a retros.yml document.
func ValidateConfigYAML(data []byte) error {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return ValidateConfigJSON(jsonData)
}
