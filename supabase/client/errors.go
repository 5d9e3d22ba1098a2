package client

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Error represents a Supabase API error.
//
// PostgREST reports {code, message, details, hint}; GoTrue reports either
// {error, error_description} or {code, error_code, msg}. All of them land here.
type Error struct {
	Code       string
	Message    string
	Details    string
	Hint       string
	StatusCode int
}

func (e *Error) Error() string {
	return e.Text()
}

// Text is the first non-empty of message, details, hint and code, falling back
// to the HTTP status text.
func (e *Error) Text() string {
	for _, s := range []string{e.Message, e.Details, e.Hint, e.Code} {
		if s != "" {
			return s
		}
	}
	if t := http.StatusText(e.StatusCode); t != "" {
		return strings.ToLower(t)
	}
	return "request failed"
}

// parseError parses an error response body.
func parseError(body []byte, statusCode int) *Error {
	e := &Error{StatusCode: statusCode}
	if !gjson.ValidBytes(body) {
		e.Message = strings.TrimSpace(string(body))
		return e
	}

	res := gjson.ParseBytes(body)
	e.Code = firstString(res, "error_code", "code")
	e.Message = firstString(res, "message", "msg", "error_description", "error")
	e.Details = res.Get("details").String()
	e.Hint = res.Get("hint").String()

	// GoTrue sends "error" as the code when error_description carries the text.
	if e.Code == "" && res.Get("error_description").Exists() {
		e.Code = res.Get("error").String()
	}
	return e
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() && v.Type != gjson.Null {
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}
