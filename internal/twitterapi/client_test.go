package twitterapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perch/internal/domain"
	"perch/internal/resolver"
)

const tweetBody = `{
  "tweets": [{
    "id": "1790000000000000001",
    "text": "Look at this",
    "createdAt": "Tue Jun 11 12:00:00 +0000 2024",
    "author": {"name": "Jane", "userName": "jane", "profilePicture": "https://img/jane.jpg", "isBlueVerified": true},
    "attachments": {"media_keys": ["3_1"]}
  }],
  "includes": {"media": [{"media_key": "3_1", "type": "photo", "url": "https://img/p.jpg"}]}
}`

type fixedLang string

func (l fixedLang) Detect(string) string { return string(l) }

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	log := testLogger()
	return NewClient(srv.URL, srv.Client(), resolver.New(log), fixedLang("en"), log)
}

func TestFetchPost(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/twitter/tweets", r.URL.Path)
		assert.Equal(t, "1790000000000000001", r.URL.Query().Get("tweet_ids"))
		assert.Equal(t, "attachments.media_keys", r.URL.Query().Get("expansions"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(tweetBody))
	})

	rec, err := c.FetchPost(context.Background(), "secret", "1790000000000000001")
	require.NoError(t, err)

	assert.Equal(t, "1790000000000000001", rec.PostID)
	assert.Equal(t, "Look at this", rec.Text)
	assert.Equal(t, domain.Author{Name: "Jane", Handle: "jane", AvatarURL: "https://img/jane.jpg", Verified: true}, rec.Author)
	assert.Equal(t, time.Date(2024, 6, 11, 12, 0, 0, 0, time.UTC), rec.CreatedAt.UTC())
	assert.Equal(t, "en", rec.Language)
	require.Len(t, rec.Media, 1)
	assert.Equal(t, "https://img/p.jpg", rec.Media[0].SourceURL)
	assert.False(t, rec.Failed())
}

func TestFetchPost_KeepsRequestedID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tweets": [{"id": "999", "text": "retweeted original"}]}`))
	})

	rec, err := c.FetchPost(context.Background(), "secret", "1790000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "1790000000000000001", rec.PostID)
	assert.Equal(t, "retweeted original", rec.Text)
}

func TestFetchPost_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, domain.ErrInvalidCredential},
		{"forbidden", http.StatusForbidden, `{}`, domain.ErrInvalidCredential},
		{"server error", http.StatusInternalServerError, `oops`, domain.ErrUpstream},
		{"empty result", http.StatusOK, `{"tweets": []}`, domain.ErrPostNotFound},
		{"garbage", http.StatusOK, `not json`, domain.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.FetchPost(context.Background(), "secret", "1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchPost_MissingCredential(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.FetchPost(context.Background(), "", "1")
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
}

func TestVerifyCredential(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-API-Key") {
		case "good":
			_, _ = w.Write([]byte(`{"tweets": []}`))
		case "flaky":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	assert.NoError(t, c.VerifyCredential(context.Background(), "good"))
	assert.NoError(t, c.VerifyCredential(context.Background(), "flaky"))
	assert.ErrorIs(t, c.VerifyCredential(context.Background(), "bad"), domain.ErrInvalidCredential)
	assert.ErrorIs(t, c.VerifyCredential(context.Background(), "  "), domain.ErrMissingCredential)
}
