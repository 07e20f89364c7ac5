package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/vietddude/riverwatch/internal/core/domain"
)

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// ErrorClass determines how to handle a fetch error.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassPermanent
)

func (c ErrorClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// ClassifyError decides whether a fetch error is worth retrying.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassTransient // Should not happen
	}

	var transient *domain.TransientError
	if errors.As(err, &transient) {
		return ClassTransient
	}
	var permanent *domain.PermanentError
	if errors.As(err, &permanent) {
		return ClassPermanent
	}

	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return ClassifyStatus(sc.HTTPStatus())
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return ClassPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "unsupported protocol scheme") ||
		strings.Contains(s, "invalid url") ||
		strings.Contains(s, "unauthorized") ||
		strings.Contains(s, "forbidden") {
		return ClassPermanent
	}

	// Default to Retry (Network, 5xx, etc)
	return ClassTransient
}

// ClassifyStatus classifies an HTTP response status.
func ClassifyStatus(code int) ErrorClass {
	switch {
	case code >= 500:
		return ClassTransient
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests:
		return ClassTransient
	case code >= 400:
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// Classify wraps err into a TransientError or PermanentError.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var transient *domain.TransientError
	var permanent *domain.PermanentError
	if errors.As(err, &transient) || errors.As(err, &permanent) {
		return err
	}
	if ClassifyError(err) == ClassPermanent {
		return &domain.PermanentError{Err: err}
	}
	return &domain.TransientError{Err: err}
}
