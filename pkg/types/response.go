package types

// DataEnvelope wraps every successful response body.
type DataEnvelope struct {
	Data any `json:"data"`
}

// ErrorBody is the public shape of a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// Page is one keyset page of a list endpoint. Cursor is empty on the last page.
type Page[T any] struct {
	Items  []T    `json:"items"`
	Cursor string `json:"cursor"`
}

// NewPage never returns a nil Items slice so empty pages encode as [].
func NewPage[T any](items []T, cursor string) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Cursor: cursor}
}
