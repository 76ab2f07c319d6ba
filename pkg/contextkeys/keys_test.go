package contextkeys

import (
	"context"
	"testing"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("empty context request id = %q", got)
	}
	ctx = WithRequestID(ctx, "abc")
	if got := GetRequestID(ctx); got != "abc" {
		t.Errorf("request id = %q, want abc", got)
	}
}

func TestUserID(t *testing.T) {
	if _, ok := GetUserID(context.Background()); ok {
		t.Error("empty context should have no user id")
	}
	id, ok := GetUserID(WithUserID(context.Background(), 7))
	if !ok || id != 7 {
		t.Errorf("user id = %d, %v", id, ok)
	}
	if _, ok := GetUserID(context.WithValue(context.Background(), UserIDKey, "7")); ok {
		t.Error("string user id should not be accepted")
	}
}
