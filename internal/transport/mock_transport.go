package transport

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
)

type MockTransport struct {
	mock.Mock
}

var _ Transport = (*MockTransport)(nil)

func (m *MockTransport) Request(ctx context.Context, method string, path string, body any, authToken string) (*Response, error) {
	args := m.Called(ctx, method, path, body, authToken)
	var resp *Response
	if v := args.Get(0); v != nil {
		resp = v.(*Response)
	}
	return resp, args.Error(1)
}

// JSONResponse builds a Response whose body is v encoded as JSON.
func JSONResponse(status int, v any) *Response {
	data, _ := json.Marshal(v)
	return &Response{Status: status, Body: data}
}
