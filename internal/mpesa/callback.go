package mpesa

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// CallbackResult — итог оплаты, присланный шлюзом на адрес обратного вызова.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        string
	ResultDesc        string
}

// Success сообщает, что покупатель подтвердил оплату.
func (r CallbackResult) Success() bool {
	return r.ResultCode == resultCodeOK
}

type callbackEnvelope struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string          `json:"MerchantRequestID"`
			CheckoutRequestID string          `json:"CheckoutRequestID"`
			ResultCode        json.RawMessage `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback разбирает тело обратного вызова STK Push. ResultCode
// приходит числом, но принимается и строка.
func ParseCallback(r io.Reader) (*CallbackResult, error) {
	var env callbackEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}

	cb := env.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback without checkout request id")
	}

	code := string(cb.ResultCode)
	if unquoted, err := strconv.Unquote(code); err == nil {
		code = unquoted
	}
	if code == "" {
		return nil, fmt.Errorf("callback without result code")
	}

	return &CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
	}, nil
}
