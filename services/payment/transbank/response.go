package transbank

import (
	"net/http"

	"webpay-gateway-api/models"
)

// Response is the raw gateway answer, kept for the caller to parse and for
// errors to carry.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fields decodes the body as an ordered JSON object.
func (r *Response) Fields() (models.Fields, error) {
	return models.ParseFields(r.Body)
}

// JSON returns a top-level field of the body, if the body is a JSON object
// and the field exists.
func (r *Response) JSON(key string) (any, bool) {
	fields, err := r.Fields()
	if err != nil {
		return nil, false
	}
	return fields.Get(key)
}

func (r *Response) IsRedirect() bool    { return r.StatusCode >= 300 && r.StatusCode < 400 }
func (r *Response) IsClientError() bool { return r.StatusCode >= 400 && r.StatusCode < 500 }
func (r *Response) IsServerError() bool { return r.StatusCode >= 500 }
