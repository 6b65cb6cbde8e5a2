package domain

import (
	"encoding/json"
	"fmt"
)

// ResponseType discriminates strategy responses.
type ResponseType string

// Response types.
const (
	ResponseTypeDefault ResponseType = "data_frame"
	ResponseTypePolling ResponseType = "data_frame_polling"
)

// Polling statuses reported to callers. A pending poll reports the backend's
// own status string verbatim instead.
const (
	PollingStatusStarted = "started"
	PollingStatusSuccess = "success"
	PollingStatusFailed  = "failed"
)

// ErrorBody is the in-band error payload of a response.
type ErrorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// StartedBody is the body of a polling response for a freshly submitted job.
type StartedBody struct {
	QueryStatusConfig *QueryStatusConfig `json:"queryStatusConfig"`
}

// Response is the tagged result of a strategy call. Exactly one of Frame,
// Started or Err is set, except for a pending poll which carries no body.
type Response struct {
	Type    ResponseType
	Status  string
	Took    int64
	Frame   *DataFrame
	Started *StartedBody
	Err     *ErrorBody
}

// NewDefaultResponse wraps a synchronously produced frame.
func NewDefaultResponse(df *DataFrame, took int64) *Response {
	return &Response{Type: ResponseTypeDefault, Frame: df, Took: took}
}

// NewDefaultErrorResponse reports an in-band backend failure of a
// synchronous strategy.
func NewDefaultErrorResponse(body ErrorBody) *Response {
	return &Response{Type: ResponseTypeDefault, Err: &body}
}

// NewPollingStarted reports a job accepted by the backend.
func NewPollingStarted(cfg *QueryStatusConfig) *Response {
	return &Response{
		Type:    ResponseTypePolling,
		Status:  PollingStatusStarted,
		Started: &StartedBody{QueryStatusConfig: cfg},
	}
}

// NewPollingPending reports a job that has not reached a terminal state.
// The backend status string is passed through unchanged.
func NewPollingPending(backendStatus string) *Response {
	return &Response{Type: ResponseTypePolling, Status: backendStatus}
}

// NewPollingSuccess reports a completed job and its frame.
func NewPollingSuccess(df *DataFrame) *Response {
	return &Response{Type: ResponseTypePolling, Status: PollingStatusSuccess, Frame: df}
}

// NewPollingFailed reports a job the backend marked as failed.
func NewPollingFailed(message string) *Response {
	return &Response{Type: ResponseTypePolling, Status: PollingStatusFailed, Err: &ErrorBody{Error: message}}
}

// HasBody reports whether the response carries a body variant.
func (r *Response) HasBody() bool {
	return r.Frame != nil || r.Started != nil || r.Err != nil
}

type responseJSON struct {
	Type   ResponseType    `json:"type"`
	Status string          `json:"status,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	Took   int64           `json:"took,omitempty"`
}

// MarshalJSON renders the active body variant under "body".
func (r Response) MarshalJSON() ([]byte, error) {
	out := responseJSON{Type: r.Type, Status: r.Status, Took: r.Took}
	var body any
	switch {
	case r.Frame != nil:
		body = r.Frame
	case r.Started != nil:
		body = r.Started
	case r.Err != nil:
		body = r.Err
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		out.Body = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the body variant from the type and status tags.
func (r *Response) UnmarshalJSON(data []byte) error {
	var in responseJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Response{Type: in.Type, Status: in.Status, Took: in.Took}
	if len(in.Body) == 0 || string(in.Body) == "null" {
		return nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(in.Body, &keys); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	switch {
	case keys["queryStatusConfig"] != nil:
		r.Started = &StartedBody{}
		return json.Unmarshal(in.Body, r.Started)
	case keys["error"] != nil:
		r.Err = &ErrorBody{}
		return json.Unmarshal(in.Body, r.Err)
	default:
		r.Frame = &DataFrame{}
		return json.Unmarshal(in.Body, r.Frame)
	}
}
