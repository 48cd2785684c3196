package ingest

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"seqwatch/internal/reads"
	"seqwatch/internal/services"
)

// Columns lists the expected column order.
var Columns = []string{"read_id", "barcode", "reference", "start", "mapped_length", "read_length", "timestamp"}

const (
	maxLineBytes = 1 << 20
	// maxFutureSkew tolerates clock drift between sequencer hosts.
	maxFutureSkew = 24 * time.Hour
)

// ParseWarning describes one skipped row.
type ParseWarning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

func (w ParseWarning) Error() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// Unwrap marks every warning as a validation failure.
func (w ParseWarning) Unwrap() error {
	return services.ErrValidation
}

// Result carries the parsed records in input order and the skipped rows.
type Result struct {
	Records  []reads.Record
	Warnings []ParseWarning
}

// ParseFile parses the batch at path, decompressing ".gz" files.
func ParseFile(path string) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "ingest", "open batch", path, err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return Result{}, services.Wrap(services.ErrValidation, "ingest", "open gzip", path, err)
		}
		defer gz.Close()
		r = gz
	}
	return Parse(r)
}

// Parse reads a batch from r. The error is reserved for I/O failures; row
// problems, oversized lines included, are reported as warnings.
func Parse(r io.Reader) (Result, error) {
	var result Result
	br := bufio.NewReaderSize(r, maxLineBytes)
	latest := time.Now().Add(maxFutureSkew)

	line := 0
	headerAllowed := true
	for {
		data, oversized, err := readLine(br)
		if err != nil && !errors.Is(err, io.EOF) {
			return result, services.Wrap(services.ErrTransient, "ingest", "read batch", "", err)
		}
		if err != nil && len(data) == 0 && !oversized {
			break
		}
		line++
		if oversized {
			result.Warnings = append(result.Warnings, ParseWarning{Line: line, Reason: "line exceeds 1 MiB"})
		} else if raw := strings.TrimRight(string(data), "\r\n"); strings.TrimSpace(raw) != "" && !strings.HasPrefix(strings.TrimSpace(raw), "#") {
			fields := strings.Split(raw, "\t")
			isHeader := headerAllowed && strings.EqualFold(strings.TrimSpace(fields[0]), Columns[0])
			headerAllowed = false
			if !isHeader {
				if rec, reason := parseRow(fields, latest); reason != "" {
					result.Warnings = append(result.Warnings, ParseWarning{Line: line, Reason: reason, Raw: truncate(raw, 200)})
				} else {
					result.Records = append(result.Records, rec)
				}
			}
		}
		if err != nil {
			break
		}
	}
	return result, nil
}

// readLine returns the next line including its terminator. A line that does
// not fit the reader's buffer is consumed through its newline and reported as
// oversized with no data.
func readLine(br *bufio.Reader) ([]byte, bool, error) {
	data, err := br.ReadSlice('\n')
	if !errors.Is(err, bufio.ErrBufferFull) {
		return data, false, err
	}
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = br.ReadSlice('\n')
	}
	return nil, true, err
}

func parseRow(fields []string, latest time.Time) (reads.Record, string) {
	if len(fields) != len(Columns) {
		return reads.Record{}, fmt.Sprintf("expected %d fields, got %d", len(Columns), len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	rec := reads.Record{ReadID: fields[0], Barcode: fields[1]}
	if rec.ReadID == "" {
		return reads.Record{}, "empty read_id"
	}
	if !reads.ValidBarcode(rec.Barcode) {
		return reads.Record{}, fmt.Sprintf("invalid barcode %q", rec.Barcode)
	}

	var err error
	if rec.ReadLength, err = parseCount(fields[5]); err != nil {
		return reads.Record{}, "read_length: " + err.Error()
	}
	if rec.Time, err = parseTimestamp(fields[6], latest); err != nil {
		return reads.Record{}, "timestamp: " + err.Error()
	}

	if isUnmapped(fields[2]) {
		rec.Reference = reads.Unmapped
		return rec, ""
	}
	rec.Reference = fields[2]
	if rec.Start, err = parseCount(fields[3]); err != nil {
		return reads.Record{}, "start: " + err.Error()
	}
	if rec.MappedLength, err = parseCount(fields[4]); err != nil {
		return reads.Record{}, "mapped_length: " + err.Error()
	}
	if rec.Start+rec.MappedLength > reads.MaxCoordinate {
		return reads.Record{}, fmt.Sprintf("alignment end %d exceeds %d", rec.Start+rec.MappedLength, reads.MaxCoordinate)
	}
	return rec, ""
}

func isUnmapped(reference string) bool {
	switch strings.ToLower(reference) {
	case "", "*", "-", "none", reads.Unmapped:
		return true
	default:
		return false
	}
}

func parseCount(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", value)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	if n > reads.MaxCoordinate {
		return 0, fmt.Errorf("%d exceeds %d", n, reads.MaxCoordinate)
	}
	return n, nil
}

// parseTimestamp accepts decimal seconds since the epoch or RFC3339, no later
// than latest.
func parseTimestamp(value string, latest time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
			return time.Time{}, fmt.Errorf("%q is out of range", value)
		}
		if secs > float64(latest.Unix()) {
			return time.Time{}, fmt.Errorf("%q is too far in the future", value)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither epoch seconds nor RFC3339", value)
	}
	if t.After(latest) {
		return time.Time{}, fmt.Errorf("%q is too far in the future", value)
	}
	return t.UTC(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
