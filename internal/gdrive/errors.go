// Package gdrive provides a Google Drive v3 REST client covering the calls a
// folder replication needs: listing, metadata, folder creation, server-side
// copy, ranged download, and resumable upload.
//
// The client makes exactly one HTTP attempt per call. Retry is the caller's
// job; Classify maps client errors onto retry classes for that purpose.
package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/tonimelisma/gdrive-replicate/internal/retry"
)

// Sentinel errors. Use errors.Is(err, gdrive.ErrNotFound) to check.
var (
	ErrBadRequest      = errors.New("gdrive: bad request")
	ErrUnauthorized    = errors.New("gdrive: unauthorized")
	ErrAccessDenied    = errors.New("gdrive: access denied")
	ErrCopyRestricted  = errors.New("gdrive: copy restricted by owner")
	ErrNotFound        = errors.New("gdrive: not found")
	ErrRateLimited     = errors.New("gdrive: rate limited")
	ErrTimeout         = errors.New("gdrive: request timeout")
	ErrServerError     = errors.New("gdrive: server error")
	ErrNotDownloadable = errors.New("gdrive: content not downloadable")
	ErrSessionExpired  = errors.New("gdrive: upload session expired")
	ErrTransport       = errors.New("gdrive: transport failure")
)

// Drive error reasons that change how a 403 is interpreted.
const (
	reasonUserRateLimit    = "userRateLimitExceeded"
	reasonRateLimit        = "rateLimitExceeded"
	reasonSharingRateLimit = "sharingRateLimitExceeded"
	reasonCannotCopy       = "cannotCopyFile"
	reasonNotDownloadable  = "fileNotDownloadable"
	reasonCannotDownload   = "cannotDownloadFile"
	reasonExportOnly       = "exportOnly"
)

// APIError carries the HTTP status, the first Drive error reason, and the
// server message. Err is the sentinel used for errors.Is.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gdrive: HTTP %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}

	return fmt.Sprintf("gdrive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// errorEnvelope is the JSON body Drive returns with a non-2xx status.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// newAPIError consumes and closes resp.Body.
func newAPIError(resp *http.Response) *APIError {
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var env errorEnvelope
	if readErr == nil && json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		apiErr.Message = env.Error.Message
		if len(env.Error.Errors) > 0 {
			apiErr.Reason = env.Error.Errors[0].Reason
		}
	} else {
		apiErr.Message = string(body)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}

	apiErr.Err = classifyStatus(resp.StatusCode, apiErr.Reason)

	return apiErr
}

// classifyStatus maps an HTTP status and Drive reason to a sentinel error.
func classifyStatus(code int, reason string) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		switch reason {
		case reasonUserRateLimit, reasonRateLimit, reasonSharingRateLimit:
			return ErrRateLimited
		case reasonCannotCopy:
			return ErrCopyRestricted
		case reasonNotDownloadable, reasonCannotDownload, reasonExportOnly:
			return ErrNotDownloadable
		default:
			return ErrAccessDenied
		}
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestTimeout:
		return ErrTimeout
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrBadRequest
	}
}

// Classify is the retry classifier for errors returned by Client.
func Classify(err error) retry.Class {
	switch {
	case err == nil:
		return retry.Permanent
	case errors.Is(err, ErrRateLimited):
		return retry.RateLimited
	case errors.Is(err, ErrServerError),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTransport):
		return retry.Transient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Permanent
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return retry.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Transient
	}

	return retry.Permanent
}

// IsPermissionFailure reports whether err means the caller may read the item
// but not duplicate it server-side.
func IsPermissionFailure(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrCopyRestricted)
}

// Reason returns the Drive error reason carried by err, or "".
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}

	return ""
}
