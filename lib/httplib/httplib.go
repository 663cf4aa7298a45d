/*
 * AuthGate
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package httplib implements common utility functions for writing
// classic HTTP handlers.
package httplib

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/authgate"
	"github.com/gravitational/authgate/lib/utils"
)

// HandlerFunc specifies a HTTP handler function that returns the JSON
// body to reply with, or an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler returns a new httprouter.Handle func from a handler func.
// Errors are converted to a JSON error body with ErrorToCode's status; a
// nil result with a nil error means the handler wrote the response
// itself.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		// Ensure that neither proxies nor browsers cache auth responses.
		SetNoCacheHeaders(w.Header())

		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, err)
			return
		}
		if out != nil {
			roundtrip.ReplyJSON(w, http.StatusOK, out)
		}
	}
}

// SetNoCacheHeaders tells proxies and browsers not to cache the content.
func SetNoCacheHeaders(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// ReadJSON reads a HTTP JSON request body of bounded size and unmarshals
// it into val.
func ReadJSON(r *http.Request, val any) error {
	// Check content type to mitigate CSRF attacks.
	contentType := strings.Split(r.Header.Get("Content-Type"), ";")[0]
	if contentType != "application/json" {
		return trace.BadParameter("expected Content-Type application/json, got %q", contentType)
	}
	data, err := utils.ReadAtMost(r.Body, authgate.MaxHTTPRequestSize)
	if err != nil {
		if errors.Is(err, utils.ErrLimitReached) {
			return trace.BadParameter("request body exceeds %v bytes", authgate.MaxHTTPRequestSize)
		}
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, val); err != nil {
		return trace.BadParameter("invalid request body: %v", err)
	}
	return nil
}

// ErrorToCode maps error kinds to HTTP statuses. Authentication denials
// are 401: the caller may retry with a usable credential. Uncategorized
// errors fail closed as 500.
func ErrorToCode(err error) int {
	switch {
	case trace.IsAccessDenied(err):
		return http.StatusUnauthorized
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	case trace.IsConnectionProblem(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorMessage `json:"error"`
}

type errorMessage struct {
	Message string `json:"message"`
}

// ReplyError sets up a JSON error response and writes it to w.
func ReplyError(w http.ResponseWriter, err error) {
	roundtrip.ReplyJSON(w, ErrorToCode(err), errorBody{
		Error: errorMessage{Message: trace.UserMessage(err)},
	})
}

// ConvertResponse undoes ErrorToCode on the client side: error statuses
// become errors of the kind the server replied with, carrying the
// server's message.
func ConvertResponse(re *roundtrip.Response, err error) (*roundtrip.Response, error) {
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Err != nil {
			return nil, trace.ConnectionProblem(uerr.Err, "%v", uerr.Error())
		}
		return nil, trace.ConvertSystemError(err)
	}
	return re, trace.Wrap(errorFromCode(re.Code(), re.Bytes()))
}

func errorFromCode(code int, body []byte) error {
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}
	message := strings.TrimSpace(string(body))
	var b errorBody
	if err := json.Unmarshal(body, &b); err == nil && b.Error.Message != "" {
		message = b.Error.Message
	}
	switch code {
	case http.StatusUnauthorized:
		return trace.AccessDenied("%v", message)
	case http.StatusBadRequest:
		return trace.BadParameter("%v", message)
	case http.StatusNotFound:
		return trace.NotFound("%v", message)
	case http.StatusConflict:
		return trace.AlreadyExists("%v", message)
	case http.StatusServiceUnavailable:
		return trace.ConnectionProblem(nil, "%v", message)
	default:
		return trace.Errorf("%v", message)
	}
}
