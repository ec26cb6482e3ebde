package climbing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "cragcoach/internal/errors"
)

func requireValidation(t *testing.T, err error) *cerrors.Error {
	t.Helper()
	require.Error(t, err)
	var classified *cerrors.Error
	require.ErrorAs(t, err, &classified)
	require.Equal(t, cerrors.KindValidation, classified.Kind)
	return classified
}

func TestParseCSV(t *testing.T) {
	content := []byte("Date,Route,Grade,Status\n2024-01-05,Midnight Lightning,V8,send\n\n01/07/2024,Ambrosia,V11,attempt\n")
	ticks, err := ParseUpload(content, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, []Tick{
		{Date: "2024-01-05", RouteName: "Midnight Lightning", Grade: "V8", Status: "send"},
		{Date: "2024-01-07", RouteName: "Ambrosia", Grade: "V11", Status: "attempt"},
	}, ticks)
}

func TestParseCSVMissingColumns(t *testing.T) {
	_, err := ParseUpload([]byte("route_name,notes\nA,fun\n"), FormatCSV)
	classified := requireValidation(t, err)
	assert.Equal(t, []string{"date", "grade"}, classified.Fields)
	assert.Contains(t, classified.Message, "missing required columns: date, grade")
}

func TestParseJSON(t *testing.T) {
	ticks, err := ParseUpload([]byte(`{"ticks":[{"date":"2024-01-05","route":"A","grade":"V5"}]}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []Tick{{Date: "2024-01-05", RouteName: "A", Grade: "V5"}}, ticks)

	ticks, err = ParseUpload([]byte(`[{"date":"2024-01-06","route_name":"B","grade":"V3","notes":"n"}]`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "n", ticks[0].Notes)
}

func TestParseJSONErrors(t *testing.T) {
	classified := requireValidation(t, second(ParseUpload([]byte(`[{"date":`), FormatJSON)))
	assert.Contains(t, classified.Message, "malformed JSON")

	classified = requireValidation(t, second(ParseUpload([]byte(`[{"date":"2024-01-01","route_name":"A"}]`), FormatJSON)))
	assert.Equal(t, []string{"grade"}, classified.Fields)

	requireValidation(t, second(ParseUpload([]byte(`"just a string"`), FormatJSON)))
}

func TestParseText(t *testing.T) {
	content := []byte("date\troute\tgrade\n# comment\n2024-01-05\tA\tV5\tflash\tgreat day\n")
	ticks, err := ParseUpload(content, FormatText)
	require.NoError(t, err)
	assert.Equal(t, []Tick{{Date: "2024-01-05", RouteName: "A", Grade: "V5", Status: "flash", Notes: "great day"}}, ticks)

	classified := requireValidation(t, second(ParseUpload([]byte("2024-01-05\tA\n"), FormatText)))
	assert.Equal(t, []string{"grade"}, classified.Fields)
}

func TestParseRejectsEmptyAndBinary(t *testing.T) {
	classified := requireValidation(t, second(ParseUpload([]byte("  \n"), FormatCSV)))
	assert.Equal(t, "uploaded file is empty", classified.Message)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	classified = requireValidation(t, second(ParseUpload(png, FormatCSV)))
	assert.Contains(t, classified.Message, "binary")
}

func TestDetectFormat(t *testing.T) {
	for name, want := range map[string]Format{"log.CSV": FormatCSV, "a.json": FormatJSON, "b.tsv": FormatText, "c.txt": FormatText} {
		got, err := DetectFormat(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	requireValidation(t, second(DetectFormat("photo.png")))
	requireValidation(t, second(DetectFormat("noext")))
}

func second[T any](_ T, err error) error { return err }
