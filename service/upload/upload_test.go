package upload

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	h, err := New(Config{Dir: dir})
	require.NoError(t, err)
	r := gin.New()
	h.Register(r)
	return r, dir
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadStoresAndServes(t *testing.T) {
	r, dir := newEngine(t)
	body, ct := multipartBody(t, "file", "photo.PNG", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "photo.PNG", res.Filename)
	assert.Equal(t, int64(5), res.Size)
	assert.Equal(t, "image/png", res.Mime)
	require.True(t, strings.HasPrefix(res.URL, "/temp/"))
	assert.True(t, strings.HasSuffix(res.URL, ".png"))

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(res.URL, "/temp/")))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(stored))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, res.URL, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestUploadRequiresFile(t *testing.T) {
	r, _ := newEngine(t)
	body, ct := multipartBody(t, "other", "a.bin", []byte{1})

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var e struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "InvalidArgument", e.Kind)
}
