package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

var (
	pngFile = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	mp4File = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2\x00\x00\x00\x08free")
	pdfFile = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
)

func newTestAdapter(t *testing.T, h http.HandlerFunc, mod func(*config.GatewayConfig)) *adapter {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.GatewayConfig{
		BaseURL:      srv.URL,
		Timeout:      time.Second,
		VideoTimeout: 3 * time.Second,
		MaxImageSize: 16 << 20,
		MaxVideoSize: 64 << 20,
		MaxDocSize:   100 << 20,
	}
	if mod != nil {
		mod(&cfg)
	}
	return NewAdapter(&config.Config{Gateway: cfg}).(*adapter)
}

func TestAccept(t *testing.T) {
	a := newTestAdapter(t, http.NotFound, func(c *config.GatewayConfig) { c.MaxImageSize = 64 })

	tests := []struct {
		name string
		req  UploadRequest
		kind models.TransferKind
		prec bool
	}{
		{"no phone", UploadRequest{Kind: KindImage, File: pngFile}, "", true},
		{"too large", UploadRequest{Kind: KindImage, File: append(pngFile, make([]byte, 64)...), ContactPhone: "1"}, models.TransferUnacceptable, false},
		{"pdf as image", UploadRequest{Kind: KindImage, File: pdfFile, ContactPhone: "1"}, models.TransferUnacceptable, false},
		{"png as video", UploadRequest{Kind: KindVideo, File: pngFile, ContactPhone: "1"}, models.TransferUnacceptable, false},
		{"empty", UploadRequest{Kind: KindDocument, ContactPhone: "1"}, models.TransferUnacceptable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Accept(tt.req)
			if tt.prec {
				var perr *models.PreconditionError
				assert.ErrorAs(t, err, &perr)
				return
			}
			var te *models.TransferError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.kind, te.Kind)
		})
	}

	mime, err := a.Accept(UploadRequest{Kind: KindImage, File: pngFile, ContactPhone: "1"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	mime, err = a.Accept(UploadRequest{Kind: KindDocument, File: pdfFile, ContactPhone: "1"})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mime)
}

func TestAcceptSizeDetailIsHumanized(t *testing.T) {
	a := newTestAdapter(t, http.NotFound, func(c *config.GatewayConfig) { c.MaxImageSize = 16 })
	_, err := a.Accept(UploadRequest{Kind: KindImage, File: pngFile, ContactPhone: "1"})
	var te *models.TransferError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Detail, "16 B")
}

func TestUpload(t *testing.T) {
	var calls atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/gateway/send-image", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "5511999999999", r.FormValue("phone"))
		assert.Equal(t, "Confira", r.FormValue("caption"))
		if _, fh, err := r.FormFile("file"); assert.NoError(t, err) {
			assert.Equal(t, "photo.png", fh.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://cdn/photo.png","messageId":"3EB0","zaapId":"z1"}`))
	}, nil)

	ref, err := a.Upload(context.Background(), UploadRequest{
		Kind:         KindImage,
		File:         pngFile,
		FileName:     "photo.png",
		ContactPhone: "5511999999999",
		Caption:      "Confira",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/photo.png", ref.URL)
	assert.Equal(t, "3EB0", ref.MessageID)
	assert.Equal(t, "image/png", ref.MimeType)

	_, err = a.Upload(context.Background(), UploadRequest{Kind: KindImage, File: pngFile})
	var perr *models.PreconditionError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadVideoUsesExtendedTimeout(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://cdn/x"}`))
	}, func(c *config.GatewayConfig) {
		c.Timeout = 50 * time.Millisecond
		c.VideoTimeout = 2 * time.Second
	})

	_, err := a.Upload(context.Background(), UploadRequest{Kind: KindVideo, File: mp4File, ContactPhone: "1"})
	require.NoError(t, err)

	_, err = a.Upload(context.Background(), UploadRequest{Kind: KindImage, File: pngFile, ContactPhone: "1"})
	var te *models.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.TransferTimeout, te.Kind)
}

func TestUploadServerRejected(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)
	ref, err := a.Upload(context.Background(), UploadRequest{Kind: KindDocument, File: pdfFile, ContactPhone: "1"})
	assert.Nil(t, ref)
	var te *models.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.TransferServerRejected, te.Kind)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
}

func TestReactions(t *testing.T) {
	var paths []string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId":"r1"}`))
	}, nil)
	ctx := context.Background()

	_, err := a.SendReaction(ctx, "", "3EB0", "👍")
	var perr *models.PreconditionError
	require.ErrorAs(t, err, &perr)
	_, err = a.RemoveReaction(ctx, "", "3EB0")
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, paths)

	ack, err := a.SendReaction(ctx, "1", "3EB0", "👍")
	require.NoError(t, err)
	assert.Equal(t, "r1", ack.MessageID)
	_, err = a.RemoveReaction(ctx, "1", "3EB0")
	require.NoError(t, err)
	_, err = a.SendLink(ctx, "1", "https://shop", "see")
	require.NoError(t, err)
	require.NoError(t, a.DeleteMessage(ctx, "z1"))

	assert.Equal(t, []string{
		"POST /gateway/send-reaction",
		"POST /gateway/remove-reaction",
		"POST /gateway/send-link",
		"DELETE /gateway/messages/z1",
	}, paths)
}

func TestFetchAudioCaches(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	release := make(chan struct{})
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/messages/"), "/audio")
		mu.Lock()
		hits[id]++
		mu.Unlock()
		if id == "slow" {
			<-release
		}
		if id == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"audioUrl":"https://cdn/` + id + `.ogg"}`))
	}, nil)
	ctx := context.Background()

	ref, err := a.FetchAudio(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/m1.ogg", ref.URL)
	_, err = a.FetchAudio(ctx, "m1")
	require.NoError(t, err)

	_, err = a.FetchAudio(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = a.FetchAudio(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := a.FetchAudio(ctx, "slow")
			assert.NoError(t, err)
			assert.Equal(t, "https://cdn/slow.ogg", ref.URL)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"m1": 1, "missing": 1, "slow": 1}, hits)
}
