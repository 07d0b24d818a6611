package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const maxErrorBody = 4 << 10

const expirationLayout = "2006-01-02T15:04:05.000-07:00"

type MercadoPagoClient struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

func NewMercadoPagoClient(baseURL, accessToken string, client *http.Client) *MercadoPagoClient {
	return &MercadoPagoClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      client,
	}
}

type mpItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPayer struct {
	Email string `json:"email,omitempty"`
}

type mpBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type mpPreferenceRequest struct {
	Items             []mpItem   `json:"items"`
	Payer             mpPayer    `json:"payer"`
	BackURLs          mpBackURLs `json:"back_urls"`
	AutoReturn        string     `json:"auto_return,omitempty"`
	NotificationURL   string     `json:"notification_url,omitempty"`
	ExternalReference string     `json:"external_reference"`
	Expires           bool       `json:"expires,omitempty"`
	ExpirationDateTo  string     `json:"expiration_date_to,omitempty"`
}

type mpPreferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type mpPaymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
}

func (c *MercadoPagoClient) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body := mpPreferenceRequest{
		Items: make([]mpItem, 0, len(req.Items)),
		Payer: mpPayer{Email: req.PayerEmail},
		BackURLs: mpBackURLs{
			Success: req.BackURLs.Success,
			Failure: req.BackURLs.Failure,
			Pending: req.BackURLs.Pending,
		},
		NotificationURL:   req.NotificationURL,
		ExternalReference: req.ExternalReference,
	}
	if req.BackURLs.Success != "" {
		body.AutoReturn = "approved"
	}
	if !req.ExpiresAt.IsZero() {
		body.Expires = true
		body.ExpirationDateTo = req.ExpiresAt.Format(expirationLayout)
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, mpItem{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  toAmount(item.UnitPrice),
			CurrencyID: item.Currency,
		})
	}

	var resp mpPreferenceResponse
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, errors.New("gateway returned a preference without id")
	}

	return &Preference{ID: resp.ID, InitPoint: resp.InitPoint}, nil
}

func (c *MercadoPagoClient) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var resp mpPaymentResponse
	err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
		}
		return nil, err
	}

	return &Payment{
		ID:                resp.ID.String(),
		Status:            resp.Status,
		StatusDetail:      resp.StatusDetail,
		ExternalReference: resp.ExternalReference,
	}, nil
}

func (c *MercadoPagoClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func newAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
		message = payload.Message
	}

	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// toAmount converts minor units to the decimal amount the gateway expects.
func toAmount(minor int64) float64 {
	return decimal.New(minor, -2).InexactFloat64()
}
