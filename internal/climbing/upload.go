package climbing

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	cerrors "cragcoach/internal/errors"
	jsonx "cragcoach/internal/shared/json"
	"cragcoach/internal/shared/values"
)

// Format is an accepted upload encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatText Format = "txt" // tab separated lines
)

// RequiredColumns must be present in every uploaded record.
var RequiredColumns = []string{"date", "route_name", "grade"}

var columnAliases = map[string]string{
	"route":       "route_name",
	"route name":  "route_name",
	"name":        "route_name",
	"status":      "send_status",
	"send status": "send_status",
	"tick_date":   "date",
}

// Upload is a parsed file waiting to be merged into the user's history.
type Upload struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Ticks     []Tick    `json:"ticks"`
	CreatedAt time.Time `json:"created_at"`
}

// ParseFormat maps a user supplied format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "txt", "text", "tab", "tsv":
		return FormatText, nil
	default:
		return "", cerrors.Validation("upload.format", fmt.Sprintf("unsupported file format %q: expected csv, json or txt", name), "format")
	}
}

// DetectFormat picks the format from a file name extension.
func DetectFormat(filename string) (Format, error) {
	ext := filepath.Ext(filename)
	if ext == "" {
		return "", cerrors.Validation("upload.format", fmt.Sprintf("cannot determine format of %q: missing file extension", filename), "filename")
	}
	return ParseFormat(ext)
}

// ParseUpload parses an uploaded tick log. Every failure is a validation
// error whose message names the violated constraint.
func ParseUpload(content []byte, format Format) ([]Tick, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, cerrors.Validation("upload.parse", "uploaded file is empty")
	}
	if isBinary(content) {
		return nil, cerrors.Validation("upload.parse",
			fmt.Sprintf("uploaded file looks binary (%s): expected CSV, JSON or text", mimetype.Detect(content).String()))
	}
	switch format {
	case FormatCSV:
		return parseCSV(content)
	case FormatJSON:
		return parseJSON(content)
	case FormatText:
		return parseText(content)
	default:
		return nil, cerrors.Validation("upload.parse", fmt.Sprintf("unsupported file format %q", format), "format")
	}
}

func isBinary(content []byte) bool {
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return true
	}
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}
	return true
}

func canonicalColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := columnAliases[name]; ok {
		return alias
	}
	return name
}

func missingFields(present func(string) bool) []string {
	var missing []string
	for _, column := range RequiredColumns {
		if !present(column) {
			missing = append(missing, column)
		}
	}
	return missing
}

func parseCSV(content []byte) ([]Tick, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, cerrors.Validation("upload.csv", fmt.Sprintf("malformed CSV header: %v", err))
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[canonicalColumn(name)] = i
	}
	if missing := missingFields(func(c string) bool { _, ok := columns[c]; return ok }); len(missing) > 0 {
		return nil, cerrors.Validation("upload.csv",
			"missing required columns: "+strings.Join(missing, ", "), missing...)
	}

	var ticks []Tick
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, cerrors.Validation("upload.csv", fmt.Sprintf("malformed CSV at line %d: %v", line, err))
		}
		row := make(map[string]any, len(columns))
		blank := true
		for name, i := range columns {
			if i < len(record) {
				row[name] = record[i]
				if strings.TrimSpace(record[i]) != "" {
					blank = false
				}
			}
		}
		if blank {
			continue
		}
		ticks = append(ticks, TickFromMap(row))
	}
	return ticks, nil
}

func parseJSON(content []byte) ([]Tick, error) {
	var decoded any
	if err := jsonx.Unmarshal(content, &decoded); err != nil {
		return nil, cerrors.Validation("upload.json", fmt.Sprintf("malformed JSON: %v", err))
	}
	var items []any
	switch v := decoded.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["ticks"].([]any)
		if !ok {
			return nil, cerrors.Validation("upload.json", `JSON object must contain a "ticks" array`, "ticks")
		}
		items = list
	default:
		return nil, cerrors.Validation("upload.json", "JSON upload must be an array of tick objects")
	}

	ticks := make([]Tick, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, cerrors.Validation("upload.json", fmt.Sprintf("record %d is not an object", i+1))
		}
		normalized := make(map[string]any, len(obj))
		for key, value := range obj {
			normalized[canonicalColumn(key)] = value
		}
		missing := missingFields(func(c string) bool {
			return values.String(normalized[c]) != ""
		})
		if len(missing) > 0 {
			return nil, cerrors.Validation("upload.json",
				fmt.Sprintf("record %d missing required fields: %s", i+1, strings.Join(missing, ", ")), missing...)
		}
		ticks = append(ticks, TickFromMap(normalized))
	}
	return ticks, nil
}

// parseText reads tab separated lines: date, route name, grade, then
// optional status and notes. Blank lines, # comments and a leading header are skipped.
func parseText(content []byte) ([]Tick, error) {
	var ticks []Tick
	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		for j := range fields {
			fields[j] = strings.TrimSpace(fields[j])
		}
		if len(ticks) == 0 && canonicalColumn(fields[0]) == "date" {
			continue
		}
		if len(fields) < len(RequiredColumns) {
			return nil, cerrors.Validation("upload.text",
				fmt.Sprintf("line %d: expected at least 3 tab-separated fields (date, route_name, grade)", i+1),
				RequiredColumns[len(fields):]...)
		}
		t := Tick{Date: NormalizeDate(fields[0]), RouteName: fields[1], Grade: fields[2]}
		if len(fields) > 3 {
			t.Status = fields[3]
		}
		if len(fields) > 4 {
			t.Notes = strings.Join(fields[4:], " ")
		}
		ticks = append(ticks, t)
	}
	if len(ticks) == 0 {
		return nil, cerrors.Validation("upload.text", "uploaded file contains no tick lines")
	}
	return ticks, nil
}
