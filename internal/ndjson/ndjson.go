// Package ndjson locates the annotation record that belongs to an uploaded
// image inside a newline-delimited JSON file.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotFound        = errors.New("no matching record")
	ErrMalformedRecord = errors.New("malformed ndjson record")
	ErrMissingField    = errors.New("record is missing a required field")
)

// Box is one word bounding box as (x0, y0, x1, y1).
type Box [4]float64

type Record struct {
	ImgName  string
	Words    []string
	Boxes    []Box
	LineNo   int
	RawBytes []byte
}

type rawRecord struct {
	ImgName json.RawMessage  `json:"img_name"`
	Words   *json.RawMessage `json:"src_word_list"`
	Boxes   *json.RawMessage `json:"src_wordbox_list"`
}

// FindRecord scans r line by line and returns the first record whose
// img_name equals name. Blank lines are skipped. Every non-blank line before
// the match must be valid JSON; lines after it are never read.
func FindRecord(r io.Reader, name string) (*Record, error) {
	br := bufio.NewReader(r)
	lineNo := 0

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			rec, matchErr := matchLine(line, name, lineNo)
			if matchErr != nil {
				return nil, matchErr
			}
			if rec != nil {
				return rec, nil
			}
		}

		if err == io.EOF {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ndjson: %w", err)
		}
	}
}

func matchLine(line []byte, name string, lineNo int) (*Record, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raw rawRecord
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, lineNo, err)
	}

	// A non-string img_name simply never matches.
	var imgName string
	if err := json.Unmarshal(raw.ImgName, &imgName); err != nil || imgName != name {
		return nil, nil
	}

	rec := &Record{ImgName: imgName, LineNo: lineNo, RawBytes: trimmed}

	if raw.Words == nil {
		return nil, fmt.Errorf("%w: src_word_list (line %d)", ErrMissingField, lineNo)
	}
	if err := json.Unmarshal(*raw.Words, &rec.Words); err != nil {
		return nil, fmt.Errorf("%w: line %d: src_word_list: %v", ErrMalformedRecord, lineNo, err)
	}

	if raw.Boxes == nil {
		return nil, fmt.Errorf("%w: src_wordbox_list (line %d)", ErrMissingField, lineNo)
	}
	if err := json.Unmarshal(*raw.Boxes, &rec.Boxes); err != nil {
		return nil, fmt.Errorf("%w: line %d: src_wordbox_list: %v", ErrMalformedRecord, lineNo, err)
	}

	if len(rec.Words) != len(rec.Boxes) {
		return nil, fmt.Errorf("%w: line %d: %d words but %d boxes",
			ErrMalformedRecord, lineNo, len(rec.Words), len(rec.Boxes))
	}

	return rec, nil
}
