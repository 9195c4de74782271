package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/reqid"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

func TestCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-1", r.Header.Get(reqid.XRequestID))
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/bad":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"invalid phone"}}`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		}
	}))
	defer srv.Close()

	c := NewClient(util.RestyOptions{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	ctx := reqid.WithID(context.Background(), "req-1")

	resp, err := c.R().SetContext(ctx).Post("/ok")
	assert.NoError(t, Check("ok", resp, err))

	resp, err = c.R().SetContext(ctx).Post("/missing")
	assert.ErrorIs(t, Check("missing", resp, err), models.ErrNotFound)

	resp, err = c.R().SetContext(ctx).Post("/bad")
	var te *models.TransferError
	require.ErrorAs(t, Check("bad", resp, err), &te)
	assert.Equal(t, models.TransferServerRejected, te.Kind)
	assert.Equal(t, http.StatusBadRequest, te.Status)
	assert.Equal(t, "invalid phone", te.Detail)

	resp, err = c.R().SetContext(ctx).Post("/slow")
	require.ErrorAs(t, Check("slow", resp, err), &te)
	assert.Equal(t, models.TransferTimeout, te.Kind)
}

func TestCheckConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(util.RestyOptions{BaseURL: url, Timeout: time.Second})
	resp, err := c.R().Post("/x")

	var te *models.TransferError
	require.ErrorAs(t, Check("refused", resp, err), &te)
	assert.Equal(t, models.TransferNetworkFailure, te.Kind)
}
