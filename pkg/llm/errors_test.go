package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      Code
		retryable bool
	}{
		{"nil", nil, CodeServer, true},
		{"deadline", context.DeadlineExceeded, CodeTimeout, true},
		{"wrapped deadline", fmt.Errorf("stream: %w", context.DeadlineExceeded), CodeTimeout, true},
		{"timeout message", errors.New("request timeout"), CodeTimeout, true},
		{"refused", errors.New("dial tcp: connection refused"), CodeNetwork, true},
		{"reset", errors.New("read: connection reset by peer"), CodeNetwork, true},
		{"dns", errors.New("lookup api.example.com: no such host"), CodeNetwork, true},
		{"unknown", errors.New("something odd"), CodeServer, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Code != tc.code {
				t.Errorf("code: got %s, expected %s", got.Code, tc.code)
			}
			if got.Retryable != tc.retryable {
				t.Errorf("retryable: got %t, expected %t", got.Retryable, tc.retryable)
			}
		})
	}
}

func TestClassifyPreservesAPIError(t *testing.T) {
	orig := Validation("bad input")
	got := Classify(fmt.Errorf("prepare: %w", orig))
	if got != orig {
		t.Error("expected the wrapped APIError to be returned unchanged")
	}
	if got.Retryable {
		t.Error("validation failures must not be retryable")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeRateLimit, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeAuth, http.StatusBadGateway},
		{CodeNetwork, http.StatusBadGateway},
		{CodeServer, http.StatusBadGateway},
		{CodeMalformed, http.StatusBadRequest},
		{CodeValidation, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := NewError(tc.code, "x").HTTPStatus; got != tc.status {
			t.Errorf("%s: got status %d, expected %d", tc.code, got, tc.status)
		}
	}
}

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status int
		code   Code
	}{
		{http.StatusTooManyRequests, CodeRateLimit},
		{http.StatusUnauthorized, CodeAuth},
		{http.StatusForbidden, CodeAuth},
		{http.StatusBadRequest, CodeMalformed},
		{http.StatusInternalServerError, CodeServer},
		{http.StatusBadGateway, CodeServer},
	}
	for _, tc := range cases {
		if got := FromStatus(tc.status, "").Code; got != tc.code {
			t.Errorf("status %d: got %s, expected %s", tc.status, got, tc.code)
		}
	}
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 10, OutputTokens: 5})
	u.Add(Usage{InputTokens: 7, OutputTokens: 3})
	if u.InputTokens != 17 || u.OutputTokens != 8 {
		t.Errorf("got %+v, expected 17 in / 8 out", u)
	}
}
