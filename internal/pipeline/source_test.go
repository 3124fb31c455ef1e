package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpas/csv2hl7/internal/pipeline"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, src pipeline.Source) ([]pipeline.RawRecord, error) {
	t.Helper()
	var records []pipeline.RawRecord
	for rec, err := range src.Records() {
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func TestSourceFor(t *testing.T) {
	src, err := pipeline.SourceFor("extract.csv", "|")
	require.NoError(t, err)
	require.IsType(t, &pipeline.CSVSource{}, src)

	src, err = pipeline.SourceFor("EXTRACT.TXT", "|")
	require.NoError(t, err)
	require.IsType(t, &pipeline.PASSource{}, src)

	_, err = pipeline.SourceFor("notes.pdf", "|")
	require.Error(t, err)
}

func TestCSVSource_SkipsHeader(t *testing.T) {
	path := writeFile(t, t.TempDir(), "extract.csv",
		"id,surname,forename\n001,SMITH,JOHN\n002,JONES,MARY\n")

	records, err := collect(t, pipeline.NewCSVSource(path))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{"001", "SMITH", "JOHN"}, records[0].Fields)
	require.Equal(t, 2, records[0].Line)
	require.Equal(t, "extract.csv", records[0].Source)
	require.Equal(t, []string{"002", "JONES", "MARY"}, records[1].Fields)
}

func TestCSVSource_RaggedRowsYielded(t *testing.T) {
	// Field-count enforcement belongs to validation, not parsing.
	path := writeFile(t, t.TempDir(), "extract.csv",
		"id,surname\n001,SMITH,EXTRA\n002\n")

	records, err := collect(t, pipeline.NewCSVSource(path))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, records[0].Fields, 3)
	require.Len(t, records[1].Fields, 1)
}

func TestCSVSource_MissingFile(t *testing.T) {
	_, err := collect(t, pipeline.NewCSVSource(filepath.Join(t.TempDir(), "nope.csv")))
	require.Error(t, err)
}

func TestPASSource_SplitsAndSkipsBlanks(t *testing.T) {
	path := writeFile(t, t.TempDir(), "extract.txt",
		"001|SMITH|JOHN|\n\n   \n002|JONES|MARY|\n")

	records, err := collect(t, pipeline.NewPASSource(path, "|"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	// The trailing separator produces a trailing empty field.
	require.Equal(t, []string{"001", "SMITH", "JOHN", ""}, records[0].Fields)
	require.Equal(t, 1, records[0].Line)
	require.Equal(t, []string{"002", "JONES", "MARY", ""}, records[1].Fields)
	require.Equal(t, 4, records[1].Line)
}

func TestPASSource_NoHeaderRow(t *testing.T) {
	path := writeFile(t, t.TempDir(), "extract.txt", "001|SMITH\n")

	records, err := collect(t, pipeline.NewPASSource(path, "|"))
	require.NoError(t, err)
	require.Len(t, records, 1, "first line of a PAS extract is data, not a header")
}
