package ingest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ETAnderson/catalogsync/internal/domain"
)

// maxLineBytes bounds one NDJSON record.
const maxLineBytes = 10 * 1024 * 1024

type UnknownKeyWarning struct {
	UnknownKeys []string `json:"unknown_keys"`
}

type ParseResult struct {
	SupplierID int64
	Records    []domain.NormalizedRecord
	Warnings   UnknownKeyWarning
}

// ParseImport decodes {"supplier_id": N, "records": [...]}. Unknown record keys
// are collected as warnings; a value of the wrong type fails the whole body.
func ParseImport(body []byte) (ParseResult, error) {
	var envelope struct {
		SupplierID int64                        `json:"supplier_id"`
		Records    []map[string]json.RawMessage `json:"records"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&envelope); err != nil {
		return ParseResult{}, err
	}

	unknown := make(map[string]struct{})
	records := make([]domain.NormalizedRecord, 0, len(envelope.Records))
	for i, item := range envelope.Records {
		rec, itemUnknown, err := parseRecord(item)
		if err != nil {
			return ParseResult{}, fmt.Errorf("records[%d]: %w", i, err)
		}
		for k := range itemUnknown {
			unknown[k] = struct{}{}
		}
		records = append(records, rec)
	}

	return ParseResult{
		SupplierID: envelope.SupplierID,
		Records:    records,
		Warnings:   UnknownKeyWarning{UnknownKeys: setToSortedSlice(unknown)},
	}, nil
}

// ParseRecordLines reads one JSON record per line. Blank lines are skipped.
func ParseRecordLines(r io.Reader, supplierID int64) (ParseResult, error) {
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, maxLineBytes)

	unknown := make(map[string]struct{})
	records := make([]domain.NormalizedRecord, 0, 1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return ParseResult{}, fmt.Errorf("line %d: %w", line, err)
		}
		rec, itemUnknown, err := parseRecord(obj)
		if err != nil {
			return ParseResult{}, fmt.Errorf("line %d: %w", line, err)
		}
		for k := range itemUnknown {
			unknown[k] = struct{}{}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return ParseResult{}, err
	}

	return ParseResult{
		SupplierID: supplierID,
		Records:    records,
		Warnings:   UnknownKeyWarning{UnknownKeys: setToSortedSlice(unknown)},
	}, nil
}

func parseRecord(item map[string]json.RawMessage) (domain.NormalizedRecord, map[string]struct{}, error) {
	known := knownRecordKeys()
	unknown := make(map[string]struct{})
	for key := range item {
		if _, ok := known[key]; !ok {
			if k := strings.TrimSpace(key); k != "" {
				unknown[k] = struct{}{}
			}
		}
	}

	var rec domain.NormalizedRecord
	fields := []struct {
		key string
		dst any
	}{
		{"supplier_sku", &rec.SupplierSKU},
		{"name", &rec.Name},
		{"manufacturer", &rec.Manufacturer},
		{"model", &rec.Model},
		{"category_path", &rec.CategoryPath},
		{"attributes", &rec.Attributes},
		{"raw", &rec.Raw},
		{"variants", &rec.Variants},
		{"price", &rec.Price},
		{"stock", &rec.Stock},
	}
	for _, f := range fields {
		if err := unmarshalIfPresent(item, f.key, f.dst); err != nil {
			return domain.NormalizedRecord{}, nil, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	rec.SupplierSKU = strings.TrimSpace(rec.SupplierSKU)
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Manufacturer = strings.TrimSpace(rec.Manufacturer)
	rec.Model = strings.TrimSpace(rec.Model)
	return rec, unknown, nil
}

func knownRecordKeys() map[string]struct{} {
	return map[string]struct{}{
		"supplier_sku":  {},
		"name":          {},
		"manufacturer":  {},
		"model":         {},
		"category_path": {},
		"attributes":    {},
		"raw":           {},
		"variants":      {},
		"price":         {},
		"stock":         {},
	}
}

func unmarshalIfPresent(obj map[string]json.RawMessage, key string, dst any) error {
	raw, ok := obj[key]
	if !ok || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func setToSortedSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return []string{}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DecodeBody unwraps a gzip request body. Any other content encoding is
// refused.
func DecodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch enc {
	case "", "identity":
		return body, nil
	case "gzip":
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}

	gr, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	return readCloserChain{Reader: gr, Closers: []io.Closer{gr, body}}, nil
}

type readCloserChain struct {
	io.Reader
	Closers []io.Closer
}

func (r readCloserChain) Close() error {
	var firstErr error
	for _, c := range r.Closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
