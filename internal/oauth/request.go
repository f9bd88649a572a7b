package oauth

// Request is the named-parameter accessor supplied by the dispatcher.
type Request interface {
	// Param returns a request body parameter, or "" when absent.
	Param(name string) string
	// BasicAuth returns HTTP Basic credentials if the request carried them.
	BasicAuth() (username, password string, ok bool)
}

// ErrorSink receives the failure reason of a rejected request. A strategy
// that rejects a request must have populated the sink before returning.
type ErrorSink interface {
	SetError(status int, code, description string)
}

// Response is the default ErrorSink. The first error set wins.
type Response struct {
	err *Error
}

func (r *Response) SetError(status int, code, description string) {
	if r.err != nil {
		return
	}
	r.err = &Error{Status: status, Code: code, Description: description}
}

// Err returns the recorded error, or nil.
func (r *Response) Err() *Error {
	return r.err
}

// Params is a map-backed Request, used by tests and non-HTTP callers.
type Params map[string]string

func (p Params) Param(name string) string { return p[name] }

func (p Params) BasicAuth() (string, string, bool) { return "", "", false }

// BasicParams is a Params request that also carries HTTP Basic credentials.
type BasicParams struct {
	Params
	Username string
	Password string
}

func (b BasicParams) BasicAuth() (string, string, bool) {
	return b.Username, b.Password, b.Username != ""
}
