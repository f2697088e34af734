package models

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// WebpayTokenName is the field carrying the token on Webpay redirects.
const WebpayTokenName = "token_ws"

// Transaction statuses reported by Webpay.
const (
	StatusAuthorized         = "AUTHORIZED"
	StatusNullified          = "NULLIFIED"
	StatusReversed           = "REVERSED"
	StatusPartiallyNullified = "PARTIALLY_NULLIFIED"
	StatusCaptured           = "CAPTURED"
	StatusFailed             = "FAILED"
)

// Fields the gateway posts back when the user aborts the payment form.
const (
	FieldTbkToken       = "TBK_TOKEN"
	FieldTbkIdSession   = "TBK_ID_SESSION"
	FieldTbkOrdenCompra = "TBK_ORDEN_COMPRA"
)

// Response is the result of creating a transaction: where to send the user.
type Response struct {
	token     string
	url       string
	tokenName string
}

func NewResponse(token, redirectURL string) Response {
	return Response{token: token, url: redirectURL, tokenName: WebpayTokenName}
}

func NewResponseWithTokenName(token, redirectURL, tokenName string) Response {
	return Response{token: token, url: redirectURL, tokenName: tokenName}
}

func (r Response) Token() string     { return r.token }
func (r Response) URL() string       { return r.url }
func (r Response) TokenName() string { return r.tokenName }

func (r Response) String() string {
	return r.url + "?" + url.Values{r.tokenName: []string{r.token}}.Encode()
}

// CallbackToken returns the token of a return callback: token_ws from the
// query or form body, falling back to TBK_TOKEN when the user aborted.
func CallbackToken(r *http.Request) string {
	if token := r.FormValue(WebpayTokenName); token != "" {
		return token
	}
	return r.FormValue(FieldTbkToken)
}

// Redirect sends the browser to the gateway form.
func (r Response) Redirect(w http.ResponseWriter, req *http.Request) {
	http.Redirect(w, req, r.String(), http.StatusFound)
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Token    string `json:"token"`
		URL      string `json:"url"`
		Redirect string `json:"redirect"`
	}{r.token, r.url, r.String()})
}

// Transaction is a read-only snapshot of the gateway state for one token,
// as returned by commit, status, refund or capture.
type Transaction struct {
	Service string
	Action  string

	fields Fields
}

func NewTransaction(service, action string, fields Fields) *Transaction {
	return &Transaction{Service: service, Action: action, fields: fields}
}

// ParseTransaction builds a Transaction from a raw gateway JSON body.
func ParseTransaction(service, action string, body []byte) (*Transaction, error) {
	fields, err := ParseFields(body)
	if err != nil {
		return nil, err
	}
	return NewTransaction(service, action, fields), nil
}

// Get looks up a field by its exact key.
func (t *Transaction) Get(key string) (any, bool) {
	return t.fields.Get(key)
}

// Field looks up a field by accessor-style name, trying the exact key first
// and then its snake_case form.
func (t *Transaction) Field(name string) (any, bool) {
	if v, ok := t.fields.Get(name); ok {
		return v, true
	}
	return t.fields.Get(SnakeCase(name))
}

// At returns the field at position i, in the order the gateway sent them.
func (t *Transaction) At(i int) (string, any, bool) {
	return t.fields.At(i)
}

func (t *Transaction) Keys() []string { return t.fields.Keys() }
func (t *Transaction) Len() int       { return t.fields.Len() }
func (t *Transaction) Fields() Fields { return t.fields }

func (t *Transaction) MarshalJSON() ([]byte, error) {
	return t.fields.MarshalJSON()
}

// IsSuccessful reports whether the gateway considers the payment done.
func (t *Transaction) IsSuccessful() bool {
	if t.isSet(FieldTbkIdSession) && t.isSet(FieldTbkOrdenCompra) {
		return false
	}

	if !t.isSet("response_code") {
		return false
	}

	code, ok := integer(t.fields.values["response_code"])
	success := ok && code == 0

	if t.fields.Has("status") {
		status, _ := t.fields.values["status"].(string)
		success = success && status != "" && status != StatusFailed
	}

	return success
}

func (t *Transaction) IsNotSuccessful() bool { return !t.IsSuccessful() }
func (t *Transaction) HasFailed() bool       { return t.IsNotSuccessful() }

// CreditCardNumber returns the last four digits of the masked card number.
func (t *Transaction) CreditCardNumber() (int, bool) {
	detail, ok := t.fields.values["card_detail"].(map[string]any)
	if !ok {
		return 0, false
	}
	number, ok := detail["card_number"].(string)
	if !ok || number == "" {
		return 0, false
	}
	if len(number) > 4 {
		number = number[len(number)-4:]
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (t *Transaction) VCI() string               { return t.str("vci") }
func (t *Transaction) Status() string            { return t.str("status") }
func (t *Transaction) BuyOrder() string          { return t.str("buy_order") }
func (t *Transaction) SessionID() string         { return t.str("session_id") }
func (t *Transaction) AccountingDate() string    { return t.str("accounting_date") }
func (t *Transaction) TransactionDate() string   { return t.str("transaction_date") }
func (t *Transaction) AuthorizationCode() string { return t.str("authorization_code") }
func (t *Transaction) AuthorizationDate() string { return t.str("authorization_date") }
func (t *Transaction) PaymentTypeCode() string   { return t.str("payment_type_code") }

// Type is the refund kind: REVERSED or NULLIFIED.
func (t *Transaction) Type() string { return t.str("type") }

func (t *Transaction) ResponseCode() (int64, bool)       { return integer(t.fields.values["response_code"]) }
func (t *Transaction) InstallmentsNumber() (int64, bool) { return integer(t.fields.values["installments_number"]) }
func (t *Transaction) Amount() (float64, bool)           { return float(t.fields.values["amount"]) }
func (t *Transaction) InstallmentsAmount() (float64, bool) {
	return float(t.fields.values["installments_amount"])
}
func (t *Transaction) Balance() (float64, bool)         { return float(t.fields.values["balance"]) }
func (t *Transaction) NullifiedAmount() (float64, bool) { return float(t.fields.values["nullified_amount"]) }
func (t *Transaction) CapturedAmount() (float64, bool)  { return float(t.fields.values["captured_amount"]) }

func (t *Transaction) isSet(key string) bool {
	v, ok := t.fields.values[key]
	return ok && v != nil
}

func (t *Transaction) str(key string) string {
	s, _ := t.fields.values[key].(string)
	return s
}

// integer accepts only integral values, matching the gateway's numeric codes.
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func float(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
