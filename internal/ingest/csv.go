package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rawblock/mule-engine/pkg/models"
	"github.com/shopspring/decimal"
)

// CSV Transaction Ingestion
//
// Expected header (any order, case and surrounding whitespace ignored):
//
//	transaction_id, sender_id, receiver_id, amount, timestamp
//
// Timestamps use models.TimestampLayout. Rows with empty fields, duplicate
// transaction ids, or amounts/timestamps that do not parse are skipped and
// counted in the ParseReport. Self-loops and non-positive amounts are passed
// through: the engine records them as graph warnings.

// Skip reasons reported in ParseReport.Skipped.
const (
	SkipEmptyField       = "empty_field"
	SkipDuplicateID      = "duplicate_id"
	SkipInvalidAmount    = "invalid_amount"
	SkipInvalidTimestamp = "invalid_timestamp"
	SkipMalformedRow     = "malformed_row"
)

var requiredColumns = []string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}

// CSVParseError means the file as a whole is unusable.
type CSVParseError struct {
	Msg string
	Err error
}

func (e *CSVParseError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *CSVParseError) Unwrap() error { return e.Err }

// ParseReport summarizes one ingestion pass.
type ParseReport struct {
	Rows     int            `json:"rows"`
	Accepted int            `json:"accepted"`
	Skipped  map[string]int `json:"skipped"`
}

// SkippedTotal is the number of rows dropped for any reason.
func (r ParseReport) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// SkipReasons lists the reasons seen, sorted.
func (r ParseReport) SkipReasons() []string {
	out := make([]string, 0, len(r.Skipped))
	for k := range r.Skipped {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseCSV reads transactions from r.
func ParseCSV(r io.Reader) ([]models.Transaction, ParseReport, error) {
	report := ParseReport{Skipped: make(map[string]int)}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, report, &CSVParseError{Msg: "reading csv", Err: err}
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(raw) {
		return nil, report, &CSVParseError{Msg: "file is not valid UTF-8 text"}
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, report, &CSVParseError{Msg: "csv file is empty or has no header row"}
	}
	if err != nil {
		return nil, report, &CSVParseError{Msg: "reading csv header", Err: err}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, report, &CSVParseError{Msg: "missing required columns: " + strings.Join(missing, ", ")}
	}

	seen := make(map[string]struct{})
	var txs []models.Transaction
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		report.Rows++
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				report.Skipped[SkipMalformedRow]++
				continue
			}
			return nil, report, &CSVParseError{Msg: fmt.Sprintf("reading line %d", line), Err: err}
		}

		field := func(name string) string {
			idx := cols[name]
			if idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		id, sender, receiver := field("transaction_id"), field("sender_id"), field("receiver_id")
		amountStr, tsStr := field("amount"), field("timestamp")
		if id == "" || sender == "" || receiver == "" || amountStr == "" || tsStr == "" {
			report.Skipped[SkipEmptyField]++
			continue
		}
		if _, dup := seen[id]; dup {
			report.Skipped[SkipDuplicateID]++
			continue
		}

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			report.Skipped[SkipInvalidAmount]++
			continue
		}
		ts, err := time.Parse(models.TimestampLayout, tsStr)
		if err != nil {
			report.Skipped[SkipInvalidTimestamp]++
			continue
		}

		seen[id] = struct{}{}
		txs = append(txs, models.Transaction{
			ID:         id,
			SenderID:   sender,
			ReceiverID: receiver,
			Amount:     amount.InexactFloat64(),
			Timestamp:  ts,
		})
	}

	report.Accepted = len(txs)
	if len(txs) == 0 {
		return nil, report, &CSVParseError{Msg: "no valid transactions found in the csv file"}
	}
	return txs, report, nil
}
