// Package mpesa предоставляет клиент платёжного шлюза M-Pesa (STK Push).
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/validation"
)

const (
	oauthPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
	resultCodeOK    = "0"
	maxErrorBody    = 4 << 10
)

var eat = time.FixedZone("EAT", 3*60*60)

// Credentials содержит учётные данные приложения в шлюзе.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

// Client инкапсулирует HTTP-взаимодействие со шлюзом M-Pesa.
type Client struct {
	baseURL string
	creds   Credentials

	// httpClient используется для запроса оплаты: повтор такого запроса
	// отправил бы покупателю второй запрос PIN-кода.
	httpClient  *http.Client
	retryClient *retryablehttp.Client

	tokens *tokenCache
	logger *zap.Logger
	now    func() time.Time
}

// STKPushResult описывает ответ шлюза на запрос оплаты.
type STKPushResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResponseCode      string
	Message           string
}

// QueryResult описывает результат проверки статуса оплаты.
type QueryResult struct {
	Success           bool   `json:"success"`
	ResultCode        string `json:"resultCode"`
	ResultDesc        string `json:"resultDesc"`
	CheckoutRequestID string `json:"checkoutRequestId"`
}

// NewClient создаёт клиент шлюза по базовому адресу и учётным данным.
func NewClient(baseURL string, creds Credentials, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = leveledLogger{logger.Sugar()}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		creds:       creds,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		retryClient: rc,
		logger:      logger,
		now:         time.Now,
	}
	c.tokens = newTokenCache(c.fetchToken, func() time.Time { return c.now() })

	return c
}

// checkRetry повторяет только сетевые ошибки и временную недоступность шлюза.
// Ответ 500 на запрос статуса означает «оплата ещё обрабатывается».
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusInternalServerError {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// AccessToken возвращает закешированный токен доступа или получает новый.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx)
}

type oauthResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+oauthPath, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.creds.ConsumerKey, c.creds.ConsumerSecret)

	resp, err := c.retryClient.Do(req)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.ErrAuthentication, "M-Pesa authentication failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readErrorBody(resp.Body)
		c.logger.Error("mpesa token request rejected", zap.Int("status", resp.StatusCode), zap.String("body", body))
		return "", 0, apperr.Wrap(apperr.ErrAuthentication, "M-Pesa authentication failed",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body))
	}

	var out oauthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", 0, apperr.New(apperr.ErrAuthentication, "M-Pesa authentication failed")
	}

	seconds, err := strconv.Atoi(strings.Trim(string(out.ExpiresIn), `"`))
	if err != nil {
		return "", 0, fmt.Errorf("parse expires_in %q: %w", out.ExpiresIn, err)
	}

	c.logger.Info("mpesa access token obtained", zap.Int("expires_in", seconds))

	return out.AccessToken, time.Duration(seconds) * time.Second, nil
}

// timestampAndPassword формирует метку времени и пароль запроса:
// base64(shortcode + passkey + timestamp). Формат задан протоколом шлюза.
func (c *Client) timestampAndPassword() (string, string) {
	timestamp := c.now().In(eat).Format(timestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(c.creds.Shortcode + c.creds.Passkey + timestamp))
	return timestamp, password
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// InitiateSTKPush отправляет на телефон покупателя запрос подтверждения оплаты.
// Любой отказ шлюза возвращается как apperr.ErrPaymentInitiation с сообщением
// шлюза без изменений.
func (c *Client) InitiateSTKPush(ctx context.Context, phone string, amount decimal.Decimal, orderRef string) (*STKPushResult, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	msisdn := validation.NormalizePhone(phone)
	timestamp, password := c.timestampAndPassword()

	payload := stkPushRequest{
		BusinessShortCode: c.creds.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount.Round(0).IntPart(),
		PartyA:            msisdn,
		PartyB:            c.creds.Shortcode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.creds.CallbackURL,
		AccountReference:  "Order-" + orderRef,
		TransactionDesc:   "Order " + orderRef,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrPaymentInitiation, "Failed to initiate payment", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrPaymentInitiation, "Failed to initiate payment", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("mpesa stk push rejected", zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return nil, rejection(raw, resp.StatusCode)
	}

	var out stkPushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.ResponseCode != resultCodeOK || out.CheckoutRequestID == "" {
		msg := out.ResponseDescription
		if msg == "" {
			msg = "Failed to initiate payment"
		}
		return nil, apperr.New(apperr.ErrPaymentInitiation, msg)
	}

	c.logger.Info("mpesa stk push initiated",
		zap.String("order", orderRef),
		zap.String("checkout_request_id", out.CheckoutRequestID),
	)

	return &STKPushResult{
		CheckoutRequestID: out.CheckoutRequestID,
		MerchantRequestID: out.MerchantRequestID,
		ResponseCode:      out.ResponseCode,
		Message:           out.CustomerMessage,
	}, nil
}

func rejection(raw []byte, status int) error {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.ErrorMessage != "" {
		return apperr.Wrap(apperr.ErrPaymentInitiation, e.ErrorMessage,
			fmt.Errorf("provider error %s (status %d)", e.ErrorCode, status))
	}
	return apperr.Wrap(apperr.ErrPaymentInitiation, "Failed to initiate payment",
		fmt.Errorf("unexpected status: %d", status))
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

// QueryStatus запрашивает результат оплаты. Успехом считается только код
// результата "0"; ещё не завершённая оплата не отличается от неуспешной и
// ошибкой не является. Ошибка возвращается лишь при сбое транспорта или
// нечитаемом ответе.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp, password := c.timestampAndPassword()
	body, err := json.Marshal(stkQueryRequest{
		BusinessShortCode: c.creds.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+queryPath, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.retryClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if err := json.Unmarshal(raw, &e); err != nil || e.ErrorCode == "" {
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}
		return &QueryResult{
			Success:           false,
			ResultCode:        e.ErrorCode,
			ResultDesc:        e.ErrorMessage,
			CheckoutRequestID: checkoutRequestID,
		}, nil
	}

	var out stkQueryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	id := out.CheckoutRequestID
	if id == "" {
		id = checkoutRequestID
	}

	return &QueryResult{
		Success:           out.ResultCode == resultCodeOK,
		ResultCode:        out.ResultCode,
		ResultDesc:        out.ResultDesc,
		CheckoutRequestID: id,
	}, nil
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return string(b)
}

// leveledLogger передаёт журнал повторов retryablehttp в zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
