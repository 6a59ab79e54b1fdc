package email

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendAcceptsOn2xx(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient("sg-key")
	c.host = srv.URL

	err := c.Send(SendRequest{
		Personalizations: []Personalization{{To: []Address{{Email: "x@y.com"}}}},
		From:             Address{Email: "from@relaycore.test"},
		Subject:          "hi",
		Content:          []Content{{Type: "text/plain", Value: "body"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sg-key", gotAuth)
	assert.Contains(t, gotBody, `"subject":"hi"`)
}

func TestClient_SendReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad"}]}`))
	}))
	defer srv.Close()

	c := NewClient("sg-key")
	c.host = srv.URL

	err := c.Send(SendRequest{Subject: "hi"})
	assert.Error(t, err)
}
