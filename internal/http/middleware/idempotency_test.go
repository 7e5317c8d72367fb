package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newIdemRouter(opts IdempotencyOptions, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(opts, lookup))
	r.POST("/businesses/:id/bookings", func(c *gin.Context) {
		key, present := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{
			"key":    key,
			"has":    present,
			"replay": IsReplay(c),
		})
	})
	return r
}

func postWithKey(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/businesses/b1/bookings", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_NoHeaderPassesThrough(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{}, nil)
	w := postWithKey(r, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"has":false`) {
		t.Fatalf("key should be absent: %s", w.Body.String())
	}
}

func TestIdempotencyValidator_ValidKeyStored(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{}, nil)
	w := postWithKey(r, "req-abc_123.v1:z~x")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"key":"req-abc_123.v1:z~x"`) {
		t.Fatalf("key not stored: %s", w.Body.String())
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	r := newIdemRouter(IdempotencyOptions{MaxLen: 10}, nil)

	if w := postWithKey(r, "has spaces"); w.Code != http.StatusBadRequest {
		t.Fatalf("spaces: status = %d", w.Code)
	}
	if w := postWithKey(r, strings.Repeat("a", 11)); w.Code != http.StatusBadRequest {
		t.Fatalf("too long: status = %d", w.Code)
	}
	if w := postWithKey(r, "emoji-⚠"); w.Code != http.StatusBadRequest {
		t.Fatalf("non-token bytes: status = %d", w.Code)
	}
}

func TestIdempotencyValidator_ReplayDetection(t *testing.T) {
	var gotBusinessID, gotKey string
	lookup := func(ctx context.Context, businessID, key string) (bool, error) {
		gotBusinessID, gotKey = businessID, key
		return key == "seen-before", nil
	}
	r := newIdemRouter(IdempotencyOptions{}, lookup)

	w := postWithKey(r, "seen-before")
	if !strings.Contains(w.Body.String(), `"replay":true`) {
		t.Fatalf("replay not flagged: %s", w.Body.String())
	}
	if gotBusinessID != "b1" || gotKey != "seen-before" {
		t.Fatalf("lookup args: %q %q", gotBusinessID, gotKey)
	}

	w = postWithKey(r, "fresh-key")
	if !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("fresh key flagged as replay: %s", w.Body.String())
	}
}

func TestIdempotencyValidator_LookupErrorDoesNotBlock(t *testing.T) {
	lookup := func(ctx context.Context, businessID, key string) (bool, error) {
		return false, errors.New("db down")
	}
	r := newIdemRouter(IdempotencyOptions{}, lookup)

	w := postWithKey(r, "some-key")
	if w.Code != http.StatusOK {
		t.Fatalf("lookup failure must not block the request: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("errored lookup must not mark replay: %s", w.Body.String())
	}
}
