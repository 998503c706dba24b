package fallback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/a3tai/mcp-receipt-reader/internal/receipt"
)

var looseDatePattern = regexp.MustCompile(`^(\d{1,2})[./ -](\d{1,2})[./ -](\d{4})$`)

// StripCodeFences removes a Markdown code fence around a model reply.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseRecord decodes a model reply into a Record. Unknown keys are ignored,
// null becomes empty, and structured values are flattened into a
// comma-joined string of their leaf values.
func ParseRecord(reply string) (receipt.Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(StripCodeFences(reply)), &raw); err != nil {
		return receipt.Record{}, fmt.Errorf("bad JSON: %w", err)
	}

	var r receipt.Record
	for _, name := range receipt.FieldNames {
		msg, ok := raw[name]
		if !ok {
			continue
		}
		value, err := flatten(msg)
		if err != nil {
			return receipt.Record{}, fmt.Errorf("bad JSON in %s: %w", name, err)
		}
		switch name {
		case receipt.FieldCompanyType:
			if ct, ok := receipt.ParseCompanyType(value); ok {
				r.CompanyType = ct
			}
		case receipt.FieldDate, receipt.FieldChequeDate:
			r.Set(name, receipt.ToStorageDate(normalizeDate(value)))
		default:
			r.Set(name, value)
		}
	}
	return r, nil
}

// flatten renders a JSON value as a plain string. Object keys are dropped and
// values keep their document order.
func flatten(msg json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()

	type frame struct {
		object  bool
		wantKey bool
	}
	var stack []frame
	// valueSeen flips the enclosing object back to expecting a key.
	valueSeen := func() {
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].wantKey = true
		}
	}

	var parts []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{':
				valueSeen()
				stack = append(stack, frame{object: true, wantKey: true})
			case '[':
				valueSeen()
				stack = append(stack, frame{})
			default:
				stack = stack[:len(stack)-1]
			}
			continue
		}

		if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].wantKey {
			stack[n-1].wantKey = false
			continue
		}
		valueSeen()

		switch v := tok.(type) {
		case string:
			if s := cleanString(v); s != "" {
				parts = append(parts, s)
			}
		case json.Number:
			parts = append(parts, v.String())
		case bool:
			parts = append(parts, strconv.FormatBool(v))
		}
	}
	return strings.Join(parts, ", "), nil
}

func cleanString(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

// normalizeDate rewrites D/M/YYYY style dates as DD-MM-YYYY ahead of the
// storage conversion. Other values are returned unchanged.
func normalizeDate(s string) string {
	m := looseDatePattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return pad2(m[1]) + "-" + pad2(m[2]) + "-" + m[3]
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
