// Package modelinfo parses a per-model JSON schema document and uses it to
// encode/decode the device's command and telemetry values. The schema's
// dynamic typing becomes a closed Go sum type; unresolved enum codes never
// error, matching firmware that may report codes newer than the schema.
package modelinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/diwise/thinqclient/internal/telemetry/logging"
	"github.com/diwise/thinqclient/pkg/apierrors"
)

// Unknown is returned by DecodeEnum when the schema has no entry for a
// code a device reported, so decoder loops stay robust to firmware adding
// codes the schema doesn't yet know about.
const Unknown = "Unknown"

// ValueSpec is the closed sum of value descriptor kinds a schema can
// declare. Boolean is folded into EnumSpec at parse time rather than
// added as a sixth variant.
type ValueSpec interface {
	isValueSpec()
}

// EnumSpec maps wire codes to human-readable labels.
type EnumSpec struct {
	Options    map[string]string
	Default    string
	HasDefault bool
}

func (EnumSpec) isValueSpec() {}

// RangeSpec describes a bounded numeric value.
type RangeSpec struct {
	Min, Max, Step int
	Default        int
	HasDefault     bool
}

func (RangeSpec) isValueSpec() {}

// BitOption is one sub-field packed into a parent integer value.
type BitOption struct {
	StartBit int
	Length   int
	Name     string
}

// BitSpec describes a parent integer value's packed sub-fields.
type BitSpec struct {
	Options []BitOption
}

func (BitSpec) isValueSpec() {}

// ReferenceSpec points at a sibling lookup table.
type ReferenceSpec struct {
	Table string
}

func (ReferenceSpec) isValueSpec() {}

// StringSpec is a free-form value; Comment is its user-visible
// description.
type StringSpec struct {
	Comment string
}

func (StringSpec) isValueSpec() {}

// ProtocolField is one byte-packed field in a BINARY(BYTE) monitor
// payload.
type ProtocolField struct {
	Name      string
	StartByte int
	Length    int
}

// MonitoringSpec describes how to decode the device's telemetry payload.
type MonitoringSpec struct {
	Binary   bool
	Protocol []ProtocolField
}

// Schema is a parsed, immutable model-info document.
type Schema struct {
	values     map[string]ValueSpec
	types      map[string]string
	tables     map[string]map[string]map[string]string
	monitoring MonitoringSpec
}

// Parse decodes a raw model-info JSON document into a Schema.
func Parse(raw []byte) (*Schema, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("parse model schema: %w", err)
	}

	valueRaw, ok := top["Value"]
	if !ok {
		return nil, fmt.Errorf("parse model schema: missing Value section")
	}

	var valueDescs map[string]json.RawMessage
	if err := json.Unmarshal(valueRaw, &valueDescs); err != nil {
		return nil, fmt.Errorf("parse model schema: invalid Value section: %w", err)
	}

	schema := &Schema{
		values: make(map[string]ValueSpec, len(valueDescs)),
		types:  make(map[string]string, len(valueDescs)),
		tables: make(map[string]map[string]map[string]string),
	}

	for name, descRaw := range valueDescs {
		spec, typ, err := parseValueSpec(name, descRaw)
		if err != nil {
			return nil, err
		}
		schema.values[name] = spec
		schema.types[name] = typ
	}

	for key, raw := range top {
		if key == "Value" || key == "Monitoring" {
			continue
		}
		table, err := parseTable(raw)
		if err != nil {
			continue
		}
		schema.tables[key] = table
	}

	if monRaw, ok := top["Monitoring"]; ok {
		mon, err := parseMonitoring(monRaw)
		if err != nil {
			return nil, err
		}
		schema.monitoring = mon
	}

	return schema, nil
}

type rawDescriptor struct {
	Type    string          `json:"type"`
	Option  json.RawMessage `json:"option"`
	Default json.RawMessage `json:"default"`
	Comment string          `json:"_comment"`
}

func parseValueSpec(name string, raw json.RawMessage) (ValueSpec, string, error) {
	var desc rawDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, "", fmt.Errorf("parse model schema: value %q: %w", name, err)
	}

	switch strings.ToLower(desc.Type) {
	case "enum":
		var options map[string]string
		if len(desc.Option) > 0 {
			if err := json.Unmarshal(desc.Option, &options); err != nil {
				return nil, "", fmt.Errorf("parse model schema: value %q: invalid enum option: %w", name, err)
			}
		}
		def, hasDef := stringDefault(desc.Default)
		return EnumSpec{Options: options, Default: def, HasDefault: hasDef}, "enum", nil

	case "boolean":
		// Folded into a 2-entry Enum, matching the most complete
		// reference variant.
		return EnumSpec{Options: map[string]string{"0": "False", "1": "True"}}, "boolean", nil

	case "range":
		var opt struct {
			Min  int `json:"min"`
			Max  int `json:"max"`
			Step int `json:"step"`
		}
		if err := json.Unmarshal(desc.Option, &opt); err != nil {
			return nil, "", fmt.Errorf("parse model schema: value %q: invalid range option: %w", name, err)
		}
		if opt.Step == 0 {
			opt.Step = 1
		}
		def, hasDef := intDefault(desc.Default)
		return RangeSpec{Min: opt.Min, Max: opt.Max, Step: opt.Step, Default: def, HasDefault: hasDef}, "range", nil

	case "bit":
		var entries []struct {
			StartBit int    `json:"startbit"`
			Length   int    `json:"length"`
			Value    string `json:"value"`
		}
		if err := json.Unmarshal(desc.Option, &entries); err != nil {
			return nil, "", fmt.Errorf("parse model schema: value %q: invalid bit option: %w", name, err)
		}
		opts := make([]BitOption, 0, len(entries))
		for _, e := range entries {
			opts = append(opts, BitOption{StartBit: e.StartBit, Length: e.Length, Name: e.Value})
		}
		return BitSpec{Options: opts}, "bit", nil

	case "reference":
		var tables []string
		if err := json.Unmarshal(desc.Option, &tables); err != nil {
			return nil, "", fmt.Errorf("parse model schema: value %q: invalid reference option: %w", name, err)
		}
		if len(tables) == 0 {
			return nil, "", fmt.Errorf("parse model schema: value %q: reference option names no table", name)
		}
		return ReferenceSpec{Table: tables[0]}, "reference", nil

	case "string":
		return StringSpec{Comment: desc.Comment}, "string", nil

	default:
		return nil, "", fmt.Errorf("parse model schema: value %q has unsupported type %q (raw: %s)", name, desc.Type, string(raw))
	}
}

func stringDefault(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func intDefault(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v, true
		}
	}
	return 0, false
}

func parseTable(raw json.RawMessage) (map[string]map[string]string, error) {
	var rows map[string]map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}

	table := make(map[string]map[string]string, len(rows))
	for code, row := range rows {
		fields := make(map[string]string, len(row))
		for k, v := range row {
			if s, ok := v.(string); ok {
				fields[k] = s
			}
		}
		table[code] = fields
	}
	return table, nil
}

func parseMonitoring(raw json.RawMessage) (MonitoringSpec, error) {
	var doc struct {
		Type     string `json:"type"`
		Protocol []struct {
			Value     string `json:"value"`
			StartByte int    `json:"startByte"`
			Length    int    `json:"length"`
		} `json:"protocol"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return MonitoringSpec{}, fmt.Errorf("parse model schema: invalid Monitoring section: %w", err)
	}

	mon := MonitoringSpec{
		Binary: strings.Contains(strings.ToUpper(doc.Type), "BINARY"),
	}
	for _, p := range doc.Protocol {
		mon.Protocol = append(mon.Protocol, ProtocolField{Name: p.Value, StartByte: p.StartByte, Length: p.Length})
	}
	return mon, nil
}

// Spec returns the parsed descriptor for name.
func (s *Schema) Spec(name string) (ValueSpec, error) {
	spec, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("model schema: unknown value %q", name)
	}
	return spec, nil
}

// ValueType returns the schema-declared type string for name ("enum",
// "range", "bit", "reference", "string", or "boolean" before folding).
func (s *Schema) ValueType(name string) (string, bool) {
	t, ok := s.types[name]
	return t, ok
}

// EncodeEnum reverse-looks-up the wire code for a label.
func (s *Schema) EncodeEnum(name, label string) (string, error) {
	spec, err := s.Spec(name)
	if err != nil {
		return "", err
	}
	enum, ok := spec.(EnumSpec)
	if !ok {
		return "", fmt.Errorf("model schema: value %q is not an enum", name)
	}
	for code, l := range enum.Options {
		if l == label {
			return code, nil
		}
	}
	return "", fmt.Errorf("model schema: enum %q has no such label %q", name, label)
}

// DecodeEnum forward-looks-up the label for a wire code. A code absent
// from the schema never errors: it is logged and reported as Unknown, so
// decoder loops stay robust to firmware reporting new codes.
func (s *Schema) DecodeEnum(ctx context.Context, name, code string) string {
	spec, err := s.Spec(name)
	if err != nil {
		logging.GetLoggerFromContext(ctx).Warn().Str("value", name).Str("code", code).Msg("decode_enum: unknown value name")
		return Unknown
	}
	enum, ok := spec.(EnumSpec)
	if !ok {
		logging.GetLoggerFromContext(ctx).Warn().Str("value", name).Msg("decode_enum: value is not an enum")
		return Unknown
	}
	label, ok := enum.Options[code]
	if !ok {
		logging.GetLoggerFromContext(ctx).Warn().Str("value", name).Str("code", code).Msg("decode_enum: code not in schema")
		return Unknown
	}
	return label
}

// ReferenceName looks up code in the table named(name)'s referenced
// table, preferring _comment, then label, then name.
func (s *Schema) ReferenceName(name, code string) (string, bool) {
	spec, err := s.Spec(name)
	if err != nil {
		return "", false
	}
	ref, ok := spec.(ReferenceSpec)
	if !ok {
		return "", false
	}
	table, ok := s.tables[ref.Table]
	if !ok {
		return "", false
	}
	row, ok := table[code]
	if !ok {
		return "", false
	}
	if v, ok := row["_comment"]; ok && v != "" {
		return v, true
	}
	if v, ok := row["label"]; ok && v != "" {
		return v, true
	}
	if v, ok := row["name"]; ok && v != "" {
		return v, true
	}
	return "", false
}

// Default returns the schema-declared default for name, when present.
func (s *Schema) Default(name string) (string, bool) {
	spec, err := s.Spec(name)
	if err != nil {
		return "", false
	}
	switch v := spec.(type) {
	case EnumSpec:
		return v.Default, v.HasDefault
	case RangeSpec:
		if !v.HasDefault {
			return "", false
		}
		return strconv.Itoa(v.Default), true
	default:
		return "", false
	}
}

// BitValue locates optionName among the schema's Bit-typed parent values,
// reads the parent's decoded integer from payload, and returns the masked
// and shifted sub-field value as a decimal string.
func (s *Schema) BitValue(optionName string, payload map[string]string) (string, error) {
	for parentName, spec := range s.values {
		bitSpec, ok := spec.(BitSpec)
		if !ok {
			continue
		}
		for _, opt := range bitSpec.Options {
			if opt.Name != optionName {
				continue
			}
			raw, ok := payload[parentName]
			if !ok {
				return "", fmt.Errorf("bit_value: payload missing parent field %q for %q", parentName, optionName)
			}
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return "", fmt.Errorf("bit_value: parent field %q is not numeric: %w", parentName, err)
			}
			mask := uint64(1)<<uint(opt.Length) - 1
			val := (n >> uint(opt.StartBit)) & mask
			return strconv.FormatUint(val, 10), nil
		}
	}
	return "", fmt.Errorf("bit_value: no such option %q", optionName)
}

// DecodeMonitor decodes a raw telemetry payload (already base64-decoded)
// per the schema's Monitoring descriptor, binary byte-packed or JSON.
func (s *Schema) DecodeMonitor(data []byte) (map[string]string, error) {
	if s.monitoring.Binary {
		out := make(map[string]string, len(s.monitoring.Protocol))
		for _, f := range s.monitoring.Protocol {
			if f.StartByte < 0 || f.StartByte+f.Length > len(data) {
				return nil, &apierrors.MalformedResponseError{Raw: fmt.Sprintf("monitor payload too short for field %q", f.Name)}
			}
			var v uint64
			for i := 0; i < f.Length; i++ {
				v = v<<8 | uint64(data[f.StartByte+i])
			}
			out[f.Name] = strconv.FormatUint(v, 10)
		}
		return out, nil
	}

	return decodeMonitorJSON(data)
}

func decodeMonitorJSON(data []byte) (map[string]string, error) {
	if m, err := parseFlatJSON(data); err == nil {
		return m, nil
	}

	// Charitable recovery: some firmware doubles the outer braces.
	// Strip one outer pair and retry exactly once before giving up.
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) >= 2 && trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}' {
		inner := trimmed[1 : len(trimmed)-1]
		if m, err := parseFlatJSON(inner); err == nil {
			return m, nil
		}
	}

	return nil, &apierrors.MalformedResponseError{Raw: string(data)}
}

func parseFlatJSON(data []byte) (map[string]string, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		out[k] = stringifyJSONValue(v)
	}
	return out, nil
}

func stringifyJSONValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
