package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"
)

const (
	pagoticTokenPath    = "/oauth/token"
	pagoticPaymentsPath = "/api/v1/payments"
)

// PagoTICService implements payment.Gateway on the PagoTIC hosted checkout.
type PagoTICService struct {
	cfg    config.PagoTICConfig
	client *http.Client
	retry  payment.RetryPolicy
	tokens *TokenSource
	log    *logger.Logger
}

func NewPagoTICService(cfg config.PagoTICConfig, client *http.Client, retry payment.RetryPolicy, shared SharedTokenCache, log *logger.Logger) *PagoTICService {
	s := &PagoTICService{
		cfg:    cfg,
		client: client,
		retry:  retry,
		log:    log,
	}
	s.tokens = newTokenSource(s.requestToken, shared)
	return s
}

func (s *PagoTICService) Provider() string { return models.ProviderPagoTIC }

type pagoticTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type pagoticDetail struct {
	ConceptID          string      `json:"concept_id"`
	ConceptDescription string      `json:"concept_description"`
	Amount             json.Number `json:"amount"`
}

type pagoticPayer struct {
	Email string `json:"email,omitempty"`
}

type pagoticPaymentRequest struct {
	ExternalTransactionID string          `json:"external_transaction_id"`
	CollectorID           string          `json:"collector_id,omitempty"`
	CurrencyID            string          `json:"currency_id"`
	DueDate               string          `json:"due_date,omitempty"`
	ReturnURL             string          `json:"return_url,omitempty"`
	NotificationURL       string          `json:"notification_url,omitempty"`
	Details               []pagoticDetail `json:"details"`
	Payer                 pagoticPayer    `json:"payer"`
}

type pagoticPayment struct {
	ID                    string `json:"id"`
	Status                string `json:"status"`
	ExternalTransactionID string `json:"external_transaction_id"`
	FormURL               string `json:"form_url"`
}

func (s *PagoTICService) CreatePaymentSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	body := pagoticPaymentRequest{
		ExternalTransactionID: req.OrderID,
		CollectorID:           s.cfg.CollectorID,
		CurrencyID:            strings.ToUpper(req.Currency),
		ReturnURL:             s.cfg.ReturnURL,
		NotificationURL:       s.cfg.CallbackURL,
		Details: []pagoticDetail{{
			ConceptID:          "tickets",
			ConceptDescription: req.Description,
			Amount:             json.Number(formatMinorUnits(req.Amount)),
		}},
		Payer: pagoticPayer{Email: req.UserEmail},
	}
	if !req.ExpiresAt.IsZero() {
		body.DueDate = req.ExpiresAt.UTC().Format("2006-01-02T15:04:05-0700")
	}

	var created pagoticPayment
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.doJSON(ctx, http.MethodPost, pagoticPaymentsPath, body, &created)
	})
	if err != nil {
		s.log.Error("PAGOTIC", fmt.Sprintf("Failed to create payment for order %s: %v", req.OrderID, err))
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("%w: pagotic returned no payment id", models.ErrPaymentProviderUnavailable)
	}

	s.log.LogPayment("pagotic", created.ID, fmt.Sprintf("payment created for order %s (%s %s)", req.OrderID, formatMinorUnits(req.Amount), req.Currency))
	return &payment.Session{
		Provider:          models.ProviderPagoTIC,
		ProviderPaymentID: created.ID,
		RedirectURL:       created.FormURL,
	}, nil
}

// NormalizeWebhook accepts both the JSON and the form-encoded notification shapes.
func (s *PagoTICService) NormalizeWebhook(header http.Header, body []byte) (*payment.Event, error) {
	var p pagoticPayment

	mediaType, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse pagotic form notification: %w", err)
		}
		p.ID = firstNonEmpty(values.Get("id"), values.Get("payment_id"))
		p.Status = values.Get("status")
		p.ExternalTransactionID = values.Get("external_transaction_id")
	} else {
		var raw struct {
			pagoticPayment
			PaymentID string `json:"payment_id"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("parse pagotic notification: %w", err)
		}
		p = raw.pagoticPayment
		p.ID = firstNonEmpty(p.ID, raw.PaymentID)
	}

	return &payment.Event{
		Provider:          models.ProviderPagoTIC,
		ProviderPaymentID: p.ID,
		ExternalOrderRef:  p.ExternalTransactionID,
		Status:            mapPagoTICStatus(p.Status),
		RawStatus:         p.Status,
		Raw:               body,
	}, nil
}

func (s *PagoTICService) FetchStatus(ctx context.Context, providerPaymentID string) (*payment.Event, error) {
	var raw json.RawMessage
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.doJSON(ctx, http.MethodGet, pagoticPaymentsPath+"/"+url.PathEscape(providerPaymentID), nil, &raw)
	})
	if err != nil {
		return nil, err
	}

	var p pagoticPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode pagotic payment %s: %w", providerPaymentID, err)
	}
	return &payment.Event{
		Provider:          models.ProviderPagoTIC,
		ProviderPaymentID: firstNonEmpty(p.ID, providerPaymentID),
		ExternalOrderRef:  p.ExternalTransactionID,
		Status:            mapPagoTICStatus(p.Status),
		RawStatus:         p.Status,
		Raw:               raw,
		Authenticated:     true,
	}, nil
}

// doJSON performs one authenticated attempt. A 401 drops the cached token and
// is reported as retryable so the next attempt logs in again.
func (s *PagoTICService) doJSON(ctx context.Context, method, path string, in, out any) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode pagotic request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transportError(err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		s.tokens.Invalidate(token)
		s.log.Warn("PAGOTIC", "Access token rejected, refreshing")
		pe := payment.NewProviderError(models.ProviderPagoTIC, resp.StatusCode, "unauthorized")
		pe.Retryable = true
		return pe
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return payment.NewProviderError(models.ProviderPagoTIC, resp.StatusCode, truncate(string(payload), 200))
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode pagotic response: %w", err)
		}
	}
	return nil
}

func (s *PagoTICService) requestToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+pagoticTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, payment.NewProviderError(models.ProviderPagoTIC, resp.StatusCode, "token: "+truncate(string(payload), 200))
	}

	var tr pagoticTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("decode pagotic token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("pagotic token response has no access_token")
	}

	s.log.Info("PAGOTIC", fmt.Sprintf("Obtained access token valid for %ds", tr.ExpiresIn))
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

func mapPagoTICStatus(status string) payment.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "accredited":
		return payment.StatusApproved
	case "rejected", "cancelled", "canceled", "refunded", "charged_back", "expired":
		return payment.StatusCancelled
	case "pending", "issued", "in_process", "in_mediation", "authorized":
		return payment.StatusPending
	default:
		return payment.StatusUnknown
	}
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return payment.NewProviderError(models.ProviderPagoTIC, 0, err.Error())
}

// formatMinorUnits renders 12345 as "123.45".
func formatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%s.%02d", sign, strconv.FormatInt(amount/100, 10), amount%100)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
