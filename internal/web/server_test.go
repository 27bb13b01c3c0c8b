package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"

	"tiffpress/internal/config"
)

func makeTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(x ^ y)
			img.Pix[i+1] = uint8(x * 2)
			img.Pix[i+2] = uint8(y * 2)
			img.Pix[i+3] = 255
		}
	}
	return img
}

func encodeFixtureTIFF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func encodeFixturePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return buf.Bytes()
}

func testServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := NewServer(cfg, logger)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return s, ts
}

func multipartUpload(t *testing.T, filename string, raw []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		if _, err := fw.Write(raw); err != nil {
			t.Fatalf("writing form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("writing field %s: %v", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeAPIResponse(t *testing.T, body io.Reader) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	api := decodeAPIResponse(t, resp.Body)
	if !api.Success {
		t.Fatalf("Success = false, error: %s", api.Error)
	}
	data, ok := api.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Data has unexpected shape: %T", api.Data)
	}
	if data["status"] != "ok" {
		t.Errorf("status field = %v, want ok", data["status"])
	}
	if data["active_requests"] != float64(0) {
		t.Errorf("active_requests = %v, want 0", data["active_requests"])
	}
}

func TestDefaultsEndpoint(t *testing.T) {
	_, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/defaults")
	if err != nil {
		t.Fatalf("GET /api/defaults: %v", err)
	}
	defer resp.Body.Close()

	api := decodeAPIResponse(t, resp.Body)
	if !api.Success {
		t.Fatalf("Success = false, error: %s", api.Error)
	}
	data := api.Data.(map[string]interface{})
	if data["min_size_percentage"] != 0.3 {
		t.Errorf("min_size_percentage = %v, want 0.3", data["min_size_percentage"])
	}
	if data["dpi"] != float64(300) {
		t.Errorf("dpi = %v, want 300", data["dpi"])
	}
	if data["max_iterations"] != float64(16) {
		t.Errorf("max_iterations = %v, want 16", data["max_iterations"])
	}
}

func TestCompressEndpoint(t *testing.T) {
	_, ts := testServer(t, nil)
	raw := encodeFixtureTIFF(t, makeTestImage(16, 16))
	body, contentType := multipartUpload(t, "scan.tiff", raw, map[string]string{
		"target_size_kb": "100",
	})

	resp, err := http.Post(ts.URL+"/api/compress", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/compress: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 200, body: %s", resp.StatusCode, payload)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/tiff" {
		t.Errorf("Content-Type = %q, want image/tiff", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "compressed_scan.tiff") {
		t.Errorf("Content-Disposition = %q, want compressed_scan.tiff name", cd)
	}
	if state := resp.Header.Get("X-Compression-State"); state != "converged" {
		t.Errorf("X-Compression-State = %q, want converged", state)
	}
	if iters := resp.Header.Get("X-Compression-Iterations"); iters != "1" {
		t.Errorf("X-Compression-Iterations = %q, want 1", iters)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	img, err := tiff.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("response is not a decodable TIFF: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 14 || bounds.Dy() != 14 {
		t.Errorf("compressed dimensions = %dx%d, want 14x14 at default scale", bounds.Dx(), bounds.Dy())
	}
}

func TestCompressRejectsNonTIFF(t *testing.T) {
	_, ts := testServer(t, nil)
	raw := encodeFixturePNG(t, makeTestImage(8, 8))
	body, contentType := multipartUpload(t, "photo.png", raw, map[string]string{
		"target_size_kb": "100",
	})

	resp, err := http.Post(ts.URL+"/api/compress", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/compress: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	api := decodeAPIResponse(t, resp.Body)
	if api.Success {
		t.Error("Success = true for rejected upload")
	}
	if !strings.Contains(api.Error, "TIFF") {
		t.Errorf("Error = %q, want mention of TIFF support", api.Error)
	}
}

func TestCompressParamValidation(t *testing.T) {
	_, ts := testServer(t, nil)
	raw := encodeFixtureTIFF(t, makeTestImage(8, 8))

	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing target",
			filename: "scan.tiff",
			fields:   map[string]string{},
			wantCode: http.StatusBadRequest,
			wantErr:  "target_size_kb is required",
		},
		{
			name:     "non numeric target",
			filename: "scan.tiff",
			fields:   map[string]string{"target_size_kb": "huge"},
			wantCode: http.StatusBadRequest,
			wantErr:  "target_size_kb must be an integer",
		},
		{
			name:     "zero target",
			filename: "scan.tiff",
			fields:   map[string]string{"target_size_kb": "0"},
			wantCode: http.StatusBadRequest,
			wantErr:  "target_size_kb",
		},
		{
			name:     "bad sharpness",
			filename: "scan.tiff",
			fields:   map[string]string{"target_size_kb": "100", "sharpness_factor": "soft"},
			wantCode: http.StatusBadRequest,
			wantErr:  "sharpness_factor must be a number",
		},
		{
			name:     "missing file",
			filename: "",
			fields:   map[string]string{"target_size_kb": "100"},
			wantCode: http.StatusBadRequest,
			wantErr:  "File is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartUpload(t, tt.filename, raw, tt.fields)
			resp, err := http.Post(ts.URL+"/api/compress", contentType, body)
			if err != nil {
				t.Fatalf("POST /api/compress: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			api := decodeAPIResponse(t, resp.Body)
			if !strings.Contains(api.Error, tt.wantErr) {
				t.Errorf("Error = %q, want substring %q", api.Error, tt.wantErr)
			}
		})
	}
}

func TestCompressUploadLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limits.MaxUploadMB = 1
	_, ts := testServer(t, cfg)

	body, contentType := multipartUpload(t, "big.tiff", bytes.Repeat([]byte{0xAA}, 2<<20), map[string]string{
		"target_size_kb": "100",
	})

	resp, err := http.Post(ts.URL+"/api/compress", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/compress: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestStatsEndpointCountsRequests(t *testing.T) {
	_, ts := testServer(t, nil)
	raw := encodeFixtureTIFF(t, makeTestImage(16, 16))
	body, contentType := multipartUpload(t, "scan.tiff", raw, map[string]string{
		"target_size_kb": "100",
	})
	resp, err := http.Post(ts.URL+"/api/compress", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/compress: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()

	api := decodeAPIResponse(t, resp.Body)
	data := api.Data.(map[string]interface{})
	counters := data["counters"].(map[string]interface{})
	if counters["requests_total"] != float64(1) {
		t.Errorf("requests_total = %v, want 1", counters["requests_total"])
	}
	if counters["converged"] != float64(1) {
		t.Errorf("converged = %v, want 1", counters["converged"])
	}
	summary, _ := data["summary"].(string)
	if !strings.Contains(summary, "TIFF Compression Statistics") {
		t.Error("summary should render the statistics header")
	}
}

func TestIndexListsEndpoints(t *testing.T) {
	_, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	api := decodeAPIResponse(t, resp.Body)
	if !api.Success {
		t.Fatalf("Success = false, error: %s", api.Error)
	}
	if cors := resp.Header.Get("Access-Control-Allow-Origin"); cors != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", cors)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	s, ts := testServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	// The handler registers the client just after the handshake; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.wsMutex.RLock()
		registered := len(s.wsClients)
		s.wsMutex.RUnlock()
		if registered == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("websocket client was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	raw := encodeFixtureTIFF(t, makeTestImage(16, 16))
	body, contentType := multipartUpload(t, "scan.tiff", raw, map[string]string{
		"target_size_kb": "100",
	})
	resp, err := http.Post(ts.URL+"/api/compress", contentType, body)
	if err != nil {
		t.Fatalf("POST /api/compress: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	seen := map[string]int{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for seen["compress_completed"] == 0 {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading websocket message (seen so far %v): %v", seen, err)
		}
		seen[msg.Type]++
	}

	if seen["compress_started"] != 1 {
		t.Errorf("compress_started events = %d, want 1", seen["compress_started"])
	}
	if seen["attempt"] < 1 {
		t.Error("expected at least one attempt event")
	}
}
