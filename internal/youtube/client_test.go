package youtube

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractChannelHandle(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"@Dokibird", "@Dokibird", true},
		{"https://www.youtube.com/@Dokibird", "@Dokibird", true},
		{"https://youtube.com/@Dokibird", "@Dokibird", true},
		{"https://www.youtube.com/@Dokibird/videos", "@Dokibird", true},
		{"https://www.youtube.com/@Dokibird?tab=shorts", "@Dokibird", true},
		{"https://www.youtube.com/watch?v=abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractChannelHandle(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ExtractChannelHandle(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCommentByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		if got := r.URL.Query().Get("id"); got != "UgxABC123" {
			t.Errorf("id = %q, want UgxABC123", got)
		}
		w.Write([]byte(`{"items":[{"id":"UgxABC123","snippet":{
			"authorChannelId":{"value":"UCowner"},
			"authorDisplayName":"Doe",
			"videoId":"dQw4w9WgXcQ",
			"textDisplay":"hello",
			"publishedAt":"2026-02-01T10:00:00Z"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	comment, err := c.CommentByID(context.Background(), "tok", "UgxABC123")
	if err != nil {
		t.Fatalf("CommentByID: %v", err)
	}
	if comment == nil || comment.AuthorChannelID != "UCowner" || comment.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("comment = %+v", comment)
	}
	want := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if !comment.PublishedAt.Equal(want) {
		t.Errorf("PublishedAt = %v, want %v", comment.PublishedAt, want)
	}
}

func TestCommentByID_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	comment, err := NewClient(srv.URL, "").CommentByID(context.Background(), "tok", "missing")
	if err != nil {
		t.Fatalf("CommentByID: %v", err)
	}
	if comment != nil {
		t.Errorf("comment = %+v, want nil for empty items", comment)
	}
}

func TestVideoAccessible(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr error
	}{
		{"member", http.StatusOK, `{"items":[{"id":"vid"}]}`, true, nil},
		{"empty items", http.StatusOK, `{"items":[]}`, false, nil},
		{"forbidden", http.StatusForbidden, `{}`, false, nil},
		{"not found", http.StatusNotFound, `{}`, false, nil},
		{"expired token", http.StatusUnauthorized, `{}`, false, ErrTokenExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			got, err := NewClient(srv.URL, "").VideoAccessible(context.Background(), "tok", "vid")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("VideoAccessible = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVideoAccessible_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").VideoAccessible(context.Background(), "tok", "vid")
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = false, want true", err)
	}
}

func TestChannelByHandle_RetriesRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"items":[{"id":"UCchan","snippet":{"title":"Doki"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "api-key")
	// Shrink backoff for the test.
	ch, err := func() (*Channel, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.ChannelByHandle(ctx, "@Doki")
	}()
	if err != nil {
		t.Fatalf("ChannelByHandle: %v", err)
	}
	if ch.ID != "UCchan" || ch.Title != "Doki" || ch.Handle != "@Doki" {
		t.Errorf("channel = %+v", ch)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry after 429)", calls)
	}
}

func TestChannelByHandle_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "api-key").ChannelByHandle(context.Background(), "@ghost")
	if !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("err = %v, want ErrChannelNotFound", err)
	}
}

func TestChannelByHandle_InvalidRef(t *testing.T) {
	_, err := NewClient("http://unused", "k").ChannelByHandle(context.Background(), "not a handle")
	if !errors.Is(err, ErrInvalidChannelRef) {
		t.Errorf("err = %v, want ErrInvalidChannelRef", err)
	}
}
