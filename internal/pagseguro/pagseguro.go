// Package pagseguro talks to the PagSeguro checkout and notification APIs.
package pagseguro

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html/charset"

	"github.com/joao-fontenele/storefront/internal/domain"
)

const (
	ProductionAPIURL     = "https://ws.pagseguro.uol.com.br"
	ProductionPaymentURL = "https://pagseguro.uol.com.br"
	SandboxAPIURL        = "https://ws.sandbox.pagseguro.uol.com.br"
	SandboxPaymentURL    = "https://sandbox.pagseguro.uol.com.br"

	defaultTimeout = 30 * time.Second
	currency       = "BRL"

	maxDescriptionLength = 100
	maxReferenceLength   = 200
)

var ErrGateway = errors.New("pagseguro gateway error")

// APIError is one entry of an <errors> response body.
type APIError struct {
	Code    string `xml:"code"`
	Message string `xml:"message"`
}

// GatewayError describes a failed call. It matches ErrGateway with errors.Is.
type GatewayError struct {
	Op         string
	StatusCode int
	Errors     []APIError
	Cause      error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString("pagseguro " + e.Op)
	if e.StatusCode != 0 {
		b.WriteString(": status " + strconv.Itoa(e.StatusCode))
	}
	for _, apiErr := range e.Errors {
		fmt.Fprintf(&b, ": [%s] %s", apiErr.Code, apiErr.Message)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *GatewayError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrGateway, e.Cause}
	}
	return []error{ErrGateway}
}

type Item struct {
	ID          string
	Description string
	Amount      decimal.Decimal
	Quantity    int
}

type CheckoutRequest struct {
	Reference       string
	SenderEmail     string
	Items           []Item
	RedirectURL     string
	NotificationURL string
}

type CheckoutResponse struct {
	Code       string
	Date       string
	PaymentURL string
}

type Notification struct {
	Code      string
	Reference string
	Status    domain.PaymentStatus
	Date      string
}

type Client struct {
	http       *resty.Client
	email      string
	token      string
	apiURL     string
	paymentURL string
}

type Option func(*Client)

// WithBaseURLs points the client at other hosts, typically an httptest server.
func WithBaseURLs(apiURL, paymentURL string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(apiURL, "/")
		c.paymentURL = strings.TrimRight(paymentURL, "/")
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

func NewClient(email, token string, sandbox bool, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
			SetTimeout(defaultTimeout).
			SetHeader("Accept", "application/xml"),
		email:      email,
		token:      token,
		apiURL:     ProductionAPIURL,
		paymentURL: ProductionPaymentURL,
	}
	if sandbox {
		c.apiURL = SandboxAPIURL
		c.paymentURL = SandboxPaymentURL
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type checkoutXML struct {
	XMLName xml.Name `xml:"checkout"`
	Code    string   `xml:"code"`
	Date    string   `xml:"date"`
}

type transactionXML struct {
	XMLName   xml.Name `xml:"transaction"`
	Code      string   `xml:"code"`
	Reference string   `xml:"reference"`
	Status    string   `xml:"status"`
	Date      string   `xml:"date"`
}

type errorsXML struct {
	XMLName xml.Name   `xml:"errors"`
	Errors  []APIError `xml:"error"`
}

// Checkout registers a payment request and returns the code together with the
// URL the buyer must be sent to.
func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	form, err := checkoutForm(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.credentials()).
		SetHeader("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetFormDataFromValues(form).
		Post(c.apiURL + "/v2/checkout")
	if err != nil {
		return nil, &GatewayError{Op: "checkout", Cause: err}
	}

	if err := checkResponse("checkout", resp); err != nil {
		return nil, err
	}

	var out checkoutXML
	if err := decodeXML(resp.Body(), &out); err != nil {
		return nil, &GatewayError{Op: "checkout", StatusCode: resp.StatusCode(), Cause: err}
	}
	if out.Code == "" {
		return nil, &GatewayError{Op: "checkout", StatusCode: resp.StatusCode(), Cause: errors.New("empty checkout code")}
	}

	return &CheckoutResponse{
		Code:       out.Code,
		Date:       out.Date,
		PaymentURL: c.paymentURL + "/v2/checkout/payment.html?code=" + url.QueryEscape(out.Code),
	}, nil
}

// CheckNotification exchanges a notification code for the transaction it
// refers to.
func (c *Client) CheckNotification(ctx context.Context, code string) (*Notification, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.credentials()).
		SetPathParam("code", code).
		Get(c.apiURL + "/v3/transactions/notifications/{code}")
	if err != nil {
		return nil, &GatewayError{Op: "notification", Cause: err}
	}

	if err := checkResponse("notification", resp); err != nil {
		return nil, err
	}

	var out transactionXML
	if err := decodeXML(resp.Body(), &out); err != nil {
		return nil, &GatewayError{Op: "notification", StatusCode: resp.StatusCode(), Cause: err}
	}

	return &Notification{
		Code:      out.Code,
		Reference: strings.TrimSpace(out.Reference),
		Status:    domain.PaymentStatus(strings.TrimSpace(out.Status)),
		Date:      out.Date,
	}, nil
}

func (c *Client) credentials() map[string]string {
	return map[string]string{"email": c.email, "token": c.token}
}

func checkoutForm(req CheckoutRequest) (url.Values, error) {
	if len(req.Items) == 0 {
		return nil, errors.New("pagseguro checkout: no items")
	}
	if len(req.Reference) > maxReferenceLength {
		return nil, fmt.Errorf("pagseguro checkout: reference longer than %d characters", maxReferenceLength)
	}

	form := url.Values{}
	form.Set("currency", currency)
	form.Set("reference", req.Reference)
	if req.SenderEmail != "" {
		form.Set("senderEmail", req.SenderEmail)
	}
	if req.RedirectURL != "" {
		form.Set("redirectURL", req.RedirectURL)
	}
	if req.NotificationURL != "" {
		form.Set("notificationURL", req.NotificationURL)
	}

	for i, item := range req.Items {
		n := strconv.Itoa(i + 1)
		form.Set("itemId"+n, item.ID)
		form.Set("itemDescription"+n, truncate(item.Description, maxDescriptionLength))
		form.Set("itemAmount"+n, item.Amount.StringFixed(2))
		form.Set("itemQuantity"+n, strconv.Itoa(item.Quantity))
	}

	return form, nil
}

func checkResponse(op string, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	gerr := &GatewayError{Op: op, StatusCode: resp.StatusCode()}

	var apiErrs errorsXML
	if err := decodeXML(resp.Body(), &apiErrs); err == nil {
		gerr.Errors = apiErrs.Errors
	}

	return gerr
}

// decodeXML accepts the ISO-8859-1 documents the API answers with.
func decodeXML(body []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	return dec.Decode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
