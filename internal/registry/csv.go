package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TLC export column names.
const (
	columnPlate    = "DMV License Plate Number"
	columnVIN      = "Vehicle VIN Number"
	columnName     = "Name"
	columnYear     = "Vehicle Year"
	columnBaseName = "Base Name"
	columnBaseType = "Base Type"
	columnActive   = "Active"
)

// ErrMissingColumn is returned when the CSV header lacks the plate column.
var ErrMissingColumn = errors.New("registry csv: missing column")

// LoadCSV reads a TLC vehicle export. Rows without a plate are skipped.
func LoadCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := index[columnPlate]; !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, columnPlate)
	}

	field := func(row []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		plate := NormalizePlate(field(row, columnPlate))
		if plate == "" {
			continue
		}

		records = append(records, Record{
			Plate:       plate,
			VIN:         strings.ToUpper(field(row, columnVIN)),
			OwnerName:   field(row, columnName),
			VehicleYear: field(row, columnYear),
			BaseName:    field(row, columnBaseName),
			BaseType:    field(row, columnBaseType),
			Active:      parseActive(field(row, columnActive)),
		})
	}

	return records, nil
}

func parseActive(v string) bool {
	switch strings.ToUpper(v) {
	case "YES", "Y", "TRUE", "1", "ACTIVE":
		return true
	default:
		return false
	}
}
