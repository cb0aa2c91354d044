package query

import (
	"strconv"
	"strings"

	"github.com/tsquery/tsquery/pkg/querystr"
)

// Response is the reply to one command: the data lines that preceded the
// status line, and the status itself.
type Response struct {
	Command string
	Raw     []string
	Data    []querystr.Map
	Status  querystr.Map
}

// NewResponse builds a Response from the data lines and the terminating
// "error ..." status line.
func NewResponse(command string, data []string, status string) *Response {
	r := &Response{
		Command: command,
		Raw:     data,
		Status:  parseStatus(status),
	}
	for _, line := range data {
		r.Data = append(r.Data, querystr.ParseSet(line)...)
	}
	return r
}

func parseStatus(line string) querystr.Map {
	_, rest, _ := strings.Cut(line, " ")
	return querystr.ParseList(rest)
}

// Code returns the numeric status id, or -1 when it is missing or malformed.
func (r *Response) Code() int {
	id, err := strconv.Atoi(r.Status.Value("id"))
	if err != nil {
		return -1
	}
	return id
}

// Message returns the status message.
func (r *Response) Message() string {
	return r.Status.Value("msg")
}

// Err returns a *StatusError when the status id is not zero.
func (r *Response) Err() error {
	code := r.Code()
	if code == StatusOK {
		return nil
	}
	return &StatusError{
		Command:      r.Command,
		ID:           code,
		Message:      r.Message(),
		ExtraMessage: r.Status.Value("extra_msg"),
		FailedPermID: r.Status.Value("failed_permid"),
	}
}

// Single returns the only record of a plain reply.
func (r *Response) Single() (querystr.Map, bool) {
	if len(r.Data) != 1 {
		return querystr.Map{}, false
	}
	return r.Data[0], true
}

// Text returns the raw data lines joined by newlines, for replies such as
// "help" that are not key=value encoded.
func (r *Response) Text() string {
	return strings.Join(r.Raw, "\n")
}
