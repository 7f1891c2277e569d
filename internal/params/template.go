// Package params exports, imports and generates per-file tracking parameters.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/registry"
	"github.com/ocr-batch/dashboard/internal/submit"
	"gopkg.in/yaml.v3"
)

// Format is a template serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user-supplied format name to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported template format %q", s)
}

// ContentType returns the MIME type of documents in format f.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Template is an exported parameter configuration. File parameters are
// keyed by display name so a template can be re-applied to a new session
// holding the same files.
type Template struct {
	Timestamp        time.Time                    `json:"timestamp" yaml:"timestamp"`
	GlobalParameters submit.EssentialParameters   `json:"global_parameters" yaml:"global_parameters"`
	FileParameters   map[string]models.Parameters `json:"file_parameters" yaml:"file_parameters"`
}

// Export builds a template from the tracked files. API keys are never exported.
func Export(files []models.TrackedFile, global submit.EssentialParameters, now time.Time) Template {
	global.APIKey = ""
	t := Template{
		Timestamp:        now,
		GlobalParameters: global,
		FileParameters:   make(map[string]models.Parameters, len(files)),
	}
	for _, f := range files {
		p := f.Parameters
		p.APIKey = ""
		p.ArrivalNumber = 0
		t.FileParameters[f.DisplayName] = p
	}
	return t
}

// Marshal encodes a template.
func Marshal(t Template, f Format) ([]byte, error) {
	switch f {
	case FormatYAML:
		return yaml.Marshal(t)
	case FormatJSON, "":
		return json.MarshalIndent(t, "", "  ")
	}
	return nil, fmt.Errorf("unsupported template format %q", f)
}

// Unmarshal decodes a template. An empty format sniffs JSON by its leading
// brace and falls back to YAML.
func Unmarshal(data []byte, f Format) (Template, error) {
	var t Template
	if f == "" {
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
			f = FormatJSON
		} else {
			f = FormatYAML
		}
	}
	switch f {
	case FormatJSON:
		if err := json.Unmarshal(data, &t); err != nil {
			return Template{}, fmt.Errorf("invalid JSON template: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &t); err != nil {
			return Template{}, fmt.Errorf("invalid YAML template: %w", err)
		}
	default:
		return Template{}, fmt.Errorf("unsupported template format %q", f)
	}
	return t, nil
}

// Apply merges the template's file parameters into every tracked file with a
// matching display name. Empty template values leave the file's value as is.
// It returns the number of files updated.
func Apply(reg *registry.Registry, t Template) int {
	applied := 0
	for _, f := range reg.List() {
		p, ok := t.FileParameters[f.DisplayName]
		if !ok {
			continue
		}
		if _, err := reg.UpdateParameters(f.ID, models.PatchFrom(p)); err == nil {
			applied++
		}
	}
	fmt.Printf("[Params] template applied to %d files\n", applied)
	return applied
}

// Generate fills every file's parameters from the batch-wide values, using a
// per-file default (numbered by position) wherever a batch value is empty.
func Generate(files []models.TrackedFile, base submit.EssentialParameters, now time.Time) map[string]models.Parameters {
	out := make(map[string]models.Parameters, len(files))
	for i, f := range files {
		n := i + 1
		out[f.ID] = models.Parameters{
			SorteoCode:  orDefault(base.SorteoCode, fmt.Sprintf("SORT%03d", n)),
			WhatsappID:  orDefault(base.WhatsappID, fmt.Sprintf("%d@lid", n)),
			UserName:    orDefault(base.UserName, fmt.Sprintf("Usuario%d", n)),
			ArrivalTime: orDefault(base.ExactTime, now.Format("15:04")),
			Caption:     orDefault(base.Caption, fmt.Sprintf("Imagen procesada %d", n)),
			SorteoDate:  now.Format("02/01/2006"),
			Profile:     submit.DefaultProfile,
			APIKey:      base.APIKey,
			OtherValue:  fmt.Sprintf("Valor%d", n),
		}
	}
	return out
}

// ApplyGenerated generates parameters for every tracked file and overwrites
// their current values. It returns the number of files updated.
func ApplyGenerated(reg *registry.Registry, base submit.EssentialParameters, now time.Time) int {
	generated := Generate(reg.List(), base, now)
	applied := 0
	for id, p := range generated {
		if _, err := reg.UpdateParameters(id, overwrite(p)); err == nil {
			applied++
		}
	}
	return applied
}

// overwrite builds a patch that sets every field, empty ones included.
func overwrite(p models.Parameters) models.ParameterPatch {
	return models.ParameterPatch{
		SorteoCode:  &p.SorteoCode,
		SorteoDate:  &p.SorteoDate,
		WhatsappID:  &p.WhatsappID,
		UserName:    &p.UserName,
		ArrivalTime: &p.ArrivalTime,
		Caption:     &p.Caption,
		Profile:     &p.Profile,
		APIKey:      &p.APIKey,
		OtherValue:  &p.OtherValue,
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
