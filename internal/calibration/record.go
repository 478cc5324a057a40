// Package calibration estimates the solver's inputs from recorded level-1
// market data: the spread transition matrix, the spread jump intensity and
// the four execution-intensity proxies.
package calibration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantfabric/mmpolicy/errs"
)

// Side marks which side of the book a level-1 record describes.
type Side byte

const (
	// SideBid is a best-bid record.
	SideBid Side = 'b'
	// SideAsk is a best-ask record.
	SideAsk Side = 'a'
)

// Record is one level-1 observation: the quote on one side of the book plus
// the market-order volume that traded against it since the previous record.
// Prices are decimals so tick arithmetic stays exact.
type Record struct {
	Date         int64 // epoch milliseconds
	Side         Side
	Price        decimal.Decimal
	Amount       float64
	MarketOrders float64
}

// CSVFeeder reads level-1 records from a CSV file with the column layout
// date,type,price,amount,marketOrders and a header row.
type CSVFeeder struct {
	reader *csv.Reader
	closer io.Closer
}

// NewCSVFeeder opens the file and consumes the header row.
func NewCSVFeeder(filePath string) (*CSVFeeder, error) {
	// #nosec G304 -- file path is operator provided via CLI flags.
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errs.New("calibration", errs.CodeIO, errs.WithMessage("open level-1 file"), errs.WithCause(err))
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 5
	if _, err := reader.Read(); err != nil {
		_ = file.Close()
		return nil, errs.New("calibration", errs.CodeIO, errs.WithMessage("read level-1 header"), errs.WithCause(err))
	}
	return &CSVFeeder{reader: reader, closer: file}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (f *CSVFeeder) Next() (Record, error) {
	row, err := f.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, errs.New("calibration", errs.CodeIO, errs.WithMessage("read level-1 record"), errs.WithCause(err))
	}
	return parseRow(row)
}

// Close releases the underlying file.
func (f *CSVFeeder) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// ReadAll drains the feeder.
func (f *CSVFeeder) ReadAll() ([]Record, error) {
	var records []Record
	for {
		rec, err := f.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

// LoadRecords reads a whole level-1 CSV file.
func LoadRecords(filePath string) ([]Record, error) {
	feeder, err := NewCSVFeeder(filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = feeder.Close() }()
	return feeder.ReadAll()
}

func parseRow(row []string) (Record, error) {
	date, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse date: %w", err)
	}
	side := strings.TrimSpace(row[1])
	if side != "b" && side != "a" {
		return Record{}, errs.New("calibration", errs.CodeInvalid,
			errs.WithField("type"),
			errs.WithMessage("must be b or a"),
			errs.WithValue(side))
	}
	price, err := decimal.NewFromString(strings.TrimSpace(row[2]))
	if err != nil {
		return Record{}, fmt.Errorf("parse price: %w", err)
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse amount: %w", err)
	}
	markord, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse marketOrders: %w", err)
	}
	return Record{
		Date:         date,
		Side:         Side(side[0]),
		Price:        price,
		Amount:       amount,
		MarketOrders: markord,
	}, nil
}
