// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Bodies may be JSON objects or form-encoded; handlers read fields by name
// without caring which.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fintrack/internal/core"
)

// MaxBodyBytes bounds every request body.
const MaxBodyBytes = 64 << 10

var errBodyTooLarge = errors.New("request body too large")

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if p.err == nil && len(p.body) > MaxBodyBytes {
		p.err = errBodyTooLarge
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := strings.TrimSpace(string(p.body))
	if trimmed == "" {
		p.formData = url.Values{}
		return nil
	}

	if strings.HasPrefix(trimmed, "{") || strings.Contains(p.contentType, "application/json") {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
			p.err = fmt.Errorf("invalid JSON body: %w", err)
			return p.err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(trimmed)
	return p.err
}

// Has reports whether the body carries key, even with an empty value.
func (p *RequestBodyParser) Has(key string) bool {
	if p.jsonData != nil {
		v, ok := p.jsonData[key]
		return ok && v != nil
	}
	if p.formData != nil {
		_, ok := p.formData[key]
		return ok
	}
	return false
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
		return ""
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// Raw returns the value as sent, for secrets that must not be altered.
func (p *RequestBodyParser) Raw(key string) string {
	if p.jsonData != nil {
		return stringValue(p.jsonData[key])
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseBodyOrFail parses the request body and returns an error response on
// failure. Returns the parser and nil on success.
func ParseBodyOrFail(r *http.Request) (*RequestBodyParser, *ResponseBuilder) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return nil, ErrorResponse(http.StatusRequestEntityTooLarge, "Request body too large.")
		}
		return nil, BadRequestError("Invalid request body.")
	}
	return p, nil
}

// ParseTransactionForm reads a full transaction. A missing date means today.
// Fields are reported in form order; an amount or type that fails to parse
// reports its own error at its position.
func ParseTransactionForm(p *RequestBodyParser) (core.TransactionForm, error) {
	form := core.TransactionForm{
		Description: p.Get("description"),
		Category:    p.Get("category"),
		Date:        core.Date(p.Get("date")),
	}
	if form.Date.IsZero() {
		form.Date = core.Today()
	}
	amount, amountErr := core.ParseAmount(p.Get("amount"))
	typ, typeErr := core.ParseTransactionType(p.Get("type"))
	form.Amount = amount
	form.Type = typ

	form = form.Normalize()
	err := form.Validate()
	switch {
	case err == nil:
		return form, nil
	case errors.Is(err, core.ErrInvalidAmount) && amountErr != nil:
		return form, amountErr
	case errors.Is(err, core.ErrInvalidType) && typeErr != nil:
		return form, typeErr
	}
	return form, err
}

// ParseTransactionPatch reads the fields present in the body.
func ParseTransactionPatch(p *RequestBodyParser) (core.TransactionPatch, error) {
	var patch core.TransactionPatch
	if p.Has("description") {
		d := p.Get("description")
		patch.Description = &d
	}
	if p.Has("amount") {
		amount, err := core.ParseAmount(p.Get("amount"))
		if err != nil {
			return core.TransactionPatch{}, err
		}
		patch.Amount = &amount
	}
	if p.Has("type") {
		typ, err := core.ParseTransactionType(p.Get("type"))
		if err != nil {
			return core.TransactionPatch{}, core.ErrInvalidType
		}
		patch.Type = &typ
	}
	if p.Has("category") {
		c := p.Get("category")
		patch.Category = &c
	}
	if p.Has("date") {
		d := core.Date(p.Get("date"))
		patch.Date = &d
	}
	return patch, patch.Validate()
}
