package sslcommerz

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/pkg/config"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
)

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		StoreID:       "teststore",
		StorePassword: "testpass",
		BaseURL:       "http://gateway.test",
		SuccessURL:    "https://shop.example/payment/success",
		FailURL:       "https://shop.example/payment/fail",
		CancelURL:     "https://shop.example/payment/cancel",
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestCreateSessionSuccess(t *testing.T) {
	respBody := `{"status":"SUCCESS","sessionkey":"sess_123","GatewayPageURL":"http://gateway.test/pay/sess_123"}`

	var capturedForm url.Values
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/"+sessionPath {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		capturedForm, err = url.ParseQuery(string(body))
		if err != nil {
			t.Fatalf("parse form: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.CreateSession(context.Background(), SessionRequest{
		TransactionID: "ORD-1001",
		Amount:        decimal.NewFromFloat(1385.00),
		CustomerName:  "Test Customer",
		CustomerEmail: "customer@example.com",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if resp.SessionKey != "sess_123" {
		t.Fatalf("unexpected session key %q", resp.SessionKey)
	}
	if capturedForm.Get("store_id") != "teststore" {
		t.Fatalf("store_id not sent")
	}
	if capturedForm.Get("total_amount") != "1385.00" {
		t.Fatalf("unexpected amount %q", capturedForm.Get("total_amount"))
	}
	if capturedForm.Get("tran_id") != "ORD-1001" {
		t.Fatalf("unexpected tran_id %q", capturedForm.Get("tran_id"))
	}
	if capturedForm.Get("currency") != "BDT" {
		t.Fatalf("expected default currency BDT, got %q", capturedForm.Get("currency"))
	}
}

func TestCreateSessionRejected(t *testing.T) {
	respBody := `{"status":"FAILED","failedreason":"store credential invalid"}`
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateSession(context.Background(), SessionRequest{
		TransactionID: "ORD-1002",
		Amount:        decimal.NewFromInt(100),
	})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestValidateTransaction(t *testing.T) {
	respBody := `{"status":"VALID","tran_id":"ORD-1001","val_id":"val_77","amount":"1385.00","currency":"BDT","bank_tran_id":"bank_55"}`

	var capturedQuery url.Values
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/"+validationPath {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		capturedQuery = req.URL.Query()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.ValidateTransaction(context.Background(), "val_77")
	if err != nil {
		t.Fatalf("validate transaction: %v", err)
	}
	if !resp.Settled() {
		t.Fatalf("expected settled transaction, got status %q", resp.Status)
	}
	if resp.TransactionID != "ORD-1001" {
		t.Fatalf("unexpected tran_id %q", resp.TransactionID)
	}
	if capturedQuery.Get("val_id") != "val_77" {
		t.Fatalf("val_id not sent")
	}
	if capturedQuery.Get("store_passwd") != "testpass" {
		t.Fatalf("store_passwd not sent")
	}
}

func TestGatewayHTTPFailure(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(strings.NewReader("upstream down")),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.ValidateTransaction(context.Background(), "val_1")
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeGateway {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if !pkgerrors.MetadataFor(typed.Code()).Retryable {
		t.Fatal("gateway errors should be retryable")
	}
}

func TestInitiateRefund(t *testing.T) {
	respBody := `{"status":"success","refund_ref_id":"ref_9"}`
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/"+refundPath {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		q := req.URL.Query()
		if q.Get("refund_amount") != "500.00" {
			t.Fatalf("unexpected refund amount %q", q.Get("refund_amount"))
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.InitiateRefund(context.Background(), RefundRequest{
		BankTranID: "bank_55",
		Amount:     decimal.NewFromInt(500),
		Remarks:    "partial refund",
	})
	if err != nil {
		t.Fatalf("initiate refund: %v", err)
	}
	if resp.RefundRefID != "ref_9" {
		t.Fatalf("unexpected refund ref %q", resp.RefundRefID)
	}
}
