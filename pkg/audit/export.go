package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat selects the encoding used by Export
type ExportFormat string

const (
	FormatJSON   ExportFormat = "json"
	FormatNDJSON ExportFormat = "ndjson"
	FormatCSV    ExportFormat = "csv"
)

// Valid reports whether f is a supported format
func (f ExportFormat) Valid() bool {
	return f == FormatJSON || f == FormatNDJSON || f == FormatCSV
}

// ContentType returns the MIME type for the format
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// Export encodes entries in the requested format
func Export(entries []*AccessLogEntry, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(entries, "", "  ")
	case FormatNDJSON:
		return exportNDJSON(entries)
	case FormatCSV:
		return exportCSV(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportNDJSON(entries []*AccessLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func exportCSV(entries []*AccessLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"ID", "Timestamp", "RequestID", "UserID", "Resource", "Action", "Result", "IPAddress", "UserAgent", "Context"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		contextJSON := ""
		if len(entry.Context) > 0 {
			b, err := json.Marshal(entry.Context)
			if err != nil {
				return nil, fmt.Errorf("failed to encode context: %w", err)
			}
			contextJSON = string(b)
		}

		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.Timestamp.UTC().Format(time.RFC3339Nano),
			entry.RequestID.String(),
			strconv.FormatInt(entry.UserID, 10),
			entry.Resource,
			entry.Action,
			string(entry.Result),
			entry.IPAddress,
			entry.UserAgent,
			contextJSON,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
