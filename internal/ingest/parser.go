package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"go.uber.org/zap"
)

const (
	fieldSeparator = "|"
	// maxFields is the positional width of a line; extra columns are dropped.
	maxFields = 8
	// minFields allows the trailing note column to be omitted.
	minFields = 7

	maxLineBytes = 1 << 20
)

// ParseResult collects the outcome of a full parse.
type ParseResult struct {
	Records   []domain.Record
	Malformed []*domain.MalformedRecordError
	// Rejected counts well-formed lines dropped for an empty name or phone.
	Rejected int
}

// Parser reads pipe-delimited appointment files. The first line is a header.
type Parser struct {
	logger *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Records lazily yields one entry per accepted data line. Malformed lines
// yield a *domain.MalformedRecordError and the sequence continues; lines
// with an empty name or phone are dropped. A read error is yielded once
// and ends the sequence.
func (p *Parser) Records(r io.Reader) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		p.scan(r, yield, nil)
	}
}

// Parse consumes the whole stream. Malformed lines are skipped and reported
// in the result; only read errors abort.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	result := &ParseResult{}
	var readErr error

	p.scan(r, func(record domain.Record, err error) bool {
		if err == nil {
			result.Records = append(result.Records, record)
			return true
		}

		var malformed *domain.MalformedRecordError
		if !errors.As(err, &malformed) {
			readErr = err
			return false
		}

		p.logger.Warn("skipping malformed record",
			zap.Int("line", malformed.Line),
			zap.String("reason", malformed.Reason),
		)
		result.Malformed = append(result.Malformed, malformed)
		return true
	}, func(lineNo int) {
		result.Rejected++
		p.logger.Debug("dropping record without name or phone", zap.Int("line", lineNo))
	})

	if readErr != nil {
		return nil, readErr
	}
	return result, nil
}

func (p *Parser) scan(r io.Reader, yield func(domain.Record, error) bool, onRejected func(lineNo int)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		record, err := parseLine(lineNo, line)
		if err != nil {
			if !yield(domain.Record{}, err) {
				return
			}
			continue
		}
		if record.Validate() != nil {
			if onRejected != nil {
				onRejected(lineNo)
			}
			continue
		}
		if !yield(record, nil) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		yield(domain.Record{}, fmt.Errorf("failed to read records: %w", err))
	}
}

func parseLine(lineNo int, line string) (domain.Record, error) {
	fields := strings.Split(line, fieldSeparator)
	if len(fields) < minFields {
		return domain.Record{}, &domain.MalformedRecordError{
			Line:   lineNo,
			Reason: fmt.Sprintf("expected at least %d fields, got %d", minFields, len(fields)),
		}
	}

	if len(fields) > maxFields {
		fields = fields[:maxFields]
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	record := domain.Record{
		Name:         fields[0],
		Phone:        fields[1],
		Kind:         fields[2],
		Date:         fields[3],
		Time:         fields[4],
		Location:     fields[5],
		ProviderName: fields[6],
	}
	if len(fields) == maxFields {
		record.Note = fields[7]
	}
	if record.Note == "" {
		record.Note = domain.DefaultNote
	}

	return record, nil
}
