package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []*AccessLogEntry {
	first := NewEntry(1, "docs", "read", ResultGranted)
	first.ID = 1
	first.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	second := NewEntry(2, "reports", "export", ResultDenied)
	second.ID = 2
	second.Timestamp = first.Timestamp.Add(time.Minute)
	second.Context["error_type"] = "storage"
	return []*AccessLogEntry{first, second}
}

func TestExport_CSV(t *testing.T) {
	data, err := Export(sampleEntries(), FormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Resource", records[0][4])
	assert.Equal(t, "2026-03-01T12:00:00Z", records[1][1])
	assert.Equal(t, "DENIED", records[2][6])
	assert.Equal(t, `{"error_type":"storage"}`, records[2][9])
	assert.Empty(t, records[1][9])
}

func TestExport_NDJSON(t *testing.T) {
	data, err := Export(sampleEntries(), FormatNDJSON)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)

	var entry AccessLogEntry
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	assert.Equal(t, "reports", entry.Resource)
}

func TestExport_JSON(t *testing.T) {
	data, err := Export(sampleEntries(), FormatJSON)
	require.NoError(t, err)

	var entries []AccessLogEntry
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.Len(t, entries, 2)
}

func TestExport_Unsupported(t *testing.T) {
	_, err := Export(sampleEntries(), ExportFormat("xml"))
	assert.Error(t, err)
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
	assert.Equal(t, "application/json", ExportFormat("").ContentType())
}

func TestExportFormat_Valid(t *testing.T) {
	for _, f := range []ExportFormat{FormatJSON, FormatNDJSON, FormatCSV} {
		assert.True(t, f.Valid(), f)
	}
	assert.False(t, ExportFormat("xml").Valid())
	assert.False(t, ExportFormat("").Valid())
}
