// Package http exposes the ledger as a JSON API.
//
// This file holds request decoding: JSON bodies, path segments and query
// parameters, each turned into core values or an error the handlers can map
// to a status code.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"saldo/internal/core"
)

const maxBodyBytes = 64 << 10

// errMalformedBody marks bodies that are not parseable JSON. It maps to 400,
// unlike well-formed bodies with bad values which are 422.
var errMalformedBody = errors.New("malformed request body")

type transactionRequest struct {
	Amount   core.Money `json:"amount"`
	Category string     `json:"category"`
	Label    string     `json:"label"`
	Date     core.Date  `json:"date"`
	Notes    string     `json:"notes"`
}

func (req transactionRequest) toTransaction() core.Transaction {
	return core.Transaction{
		Amount:   req.Amount,
		Category: sanitizeInput(req.Category),
		Label:    sanitizeInput(req.Label),
		Date:     req.Date,
		Notes:    sanitizeInput(req.Notes),
	}
}

type incomeRequest struct {
	Amount core.Money `json:"amount"`
	Date   core.Date  `json:"date"`
	Notes  string     `json:"notes"`
}

func (req incomeRequest) toIncome() core.Income {
	return core.Income{
		Amount: req.Amount,
		Date:   req.Date,
		Notes:  sanitizeInput(req.Notes),
	}
}

type tagRequest struct {
	Name string `json:"name"`
}

// decodeJSON reads one JSON object from the request body into dst. Value
// errors raised by core types keep their kind; anything else is malformed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errMalformedBody)
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: field %q has the wrong type", core.ErrInvalidInput, typeErr.Field)
		}
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errMalformedBody)
	}
	return nil
}

// pathYearMonth reads the {year} and {month} path segments.
func pathYearMonth(r *http.Request) (year, month int, err error) {
	year, err = strconv.Atoi(r.PathValue("year"))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: year %q", core.ErrInvalidInput, r.PathValue("year"))
	}
	month, err = strconv.Atoi(r.PathValue("month"))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: month %q", core.ErrInvalidInput, r.PathValue("month"))
	}
	if err := core.ValidateMonth(year, month); err != nil {
		return 0, 0, err
	}
	return year, month, nil
}

// queryDate reads the optional ?date= parameter. A missing parameter
// yields nil, which tells the ledger to search every month.
func queryDate(r *http.Request) (*core.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return nil, nil
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
