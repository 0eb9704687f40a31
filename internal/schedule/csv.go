package schedule

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// ParseCSV reads an uploaded schedule file into rows. Expected columns:
// doctor_name, clinic_name, date (YYYY-MM-DD), start (HH:MM), end (HH:MM),
// duration_minutes. A header line is skipped when present.
func ParseCSV(data []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 6
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBatch, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrBadBatch)
	}

	if strings.EqualFold(strings.TrimSpace(records[0][0]), "doctor_name") {
		records = records[1:]
	}

	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		duration, err := strconv.Atoi(strings.TrimSpace(rec[5]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: duration %q is not a number", ErrBadBatch, i+1, rec[5])
		}
		rows = append(rows, Row{
			DoctorName:      strings.TrimSpace(rec[0]),
			ClinicName:      strings.TrimSpace(rec[1]),
			Date:            strings.TrimSpace(rec[2]),
			Start:           strings.TrimSpace(rec[3]),
			End:             strings.TrimSpace(rec[4]),
			DurationMinutes: duration,
		})
	}
	return rows, nil
}
