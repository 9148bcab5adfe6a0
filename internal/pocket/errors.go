package pocket

import (
	"errors"
	"fmt"
	"strings"
)

// MaxPerPage is the largest page the backend serves.
const MaxPerPage = 500

// ErrPageSize is returned before any request when perPage is outside 1-500.
var ErrPageSize = errors.New("can only fetch 1 - 500 records in one page")

type PageSizeError struct {
	Page    int
	PerPage int
}

func (e *PageSizeError) Error() string {
	return fmt.Sprintf("%v (page=%d perPage=%d)", ErrPageSize, e.Page, e.PerPage)
}

func (e *PageSizeError) Unwrap() error { return ErrPageSize }

func checkPage(page, perPage int) error {
	if perPage < 1 || perPage > MaxPerPage {
		return &PageSizeError{Page: page, PerPage: perPage}
	}
	return nil
}

// RequestError describes a backend call that completed with an unexpected status.
type RequestError struct {
	Op         string
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("unable to %s: %s %s: %s", strings.ReplaceAll(e.Op, "_", " "), e.Method, e.URL, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// StatusCode extracts the HTTP status of a failed request, or 0.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
