// Package httpx holds what the REST collaborators share: client construction
// and the mapping of transport failures onto TransferError kinds.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/reqid"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

// NewClient is util.NewRestyClient plus request id propagation.
func NewClient(opts util.RestyOptions) *resty.Client {
	c := util.NewRestyClient(opts)
	c.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if id := reqid.FromContext(r.Context()); id != "" {
			r.SetHeader(reqid.XRequestID, id)
		}
		return nil
	})
	return c
}

// Check turns a resty result into nil or a *models.TransferError.
func Check(op string, resp *resty.Response, err error) error {
	if err != nil {
		kind := models.TransferNetworkFailure
		if IsTimeout(err) {
			kind = models.TransferTimeout
		}
		return &models.TransferError{Kind: kind, Op: op, Err: err}
	}
	if resp.IsError() {
		status := resp.StatusCode()
		if status == http.StatusNotFound {
			return fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		kind := models.TransferServerRejected
		if status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout {
			kind = models.TransferTimeout
		}
		return &models.TransferError{Kind: kind, Op: op, Status: status, Detail: errorDetail(resp.Body())}
	}
	return nil
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorDetail picks a message out of the usual error body shapes.
func errorDetail(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "message", "error", "detail"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
			return r.String()
		}
	}
	return ""
}
