// Package upload stores files posted by the sandbox UI and serves them back
// so messages can reference them by url.
package upload

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/tools/errs"
)

type Config struct {
	Dir     string `mapstructure:"dir"`
	Route   string `mapstructure:"route"`    // 访问前缀，默认 /temp
	MaxSize int64  `mapstructure:"max_size"` // 字节
}

// Result is the response body of a successful upload.
type Result struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Mime     string `json:"mime"`
}

type Handler struct {
	conf Config
	log  *zap.Logger
}

func New(conf Config) (*Handler, error) {
	if conf.Dir == "" {
		conf.Dir = "temp"
	}
	if conf.Route == "" {
		conf.Route = "/temp"
	}
	if conf.MaxSize <= 0 {
		conf.MaxSize = 32 << 20
	}
	if err := os.MkdirAll(conf.Dir, 0o755); err != nil {
		return nil, errs.ErrInternal.WrapMsg("create upload dir", "dir", conf.Dir, "err", err)
	}
	return &Handler{conf: conf, log: logger.Named("upload")}, nil
}

// Register mounts POST /api/upload and the static file route.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/api/upload", h.Upload)
	r.Static(h.conf.Route, h.conf.Dir)
}

func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.conf.MaxSize)
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, http.StatusBadRequest, errs.ErrInvalidArgument.WrapMsg("multipart field \"file\" is required", "err", err))
		return
	}

	// 存储名用 uuid，保留原扩展名
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	name := uuid.NewString() + ext
	if err := c.SaveUploadedFile(fh, filepath.Join(h.conf.Dir, name)); err != nil {
		h.fail(c, http.StatusInternalServerError, errs.ErrInternal.WrapMsg("save upload", "err", err))
		return
	}

	mt := fh.Header.Get("Content-Type")
	if mt == "" || mt == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			mt = byExt
		}
	}
	if mt == "" {
		mt = "application/octet-stream"
	}

	res := Result{
		URL:      strings.TrimSuffix(h.conf.Route, "/") + "/" + name,
		Filename: fh.Filename,
		Size:     fh.Size,
		Mime:     mt,
	}
	h.log.Info("file stored", zap.String("name", name), zap.String("filename", fh.Filename), zap.Int64("size", fh.Size))
	c.JSON(http.StatusOK, res)
}

func (h *Handler) fail(c *gin.Context, status int, err error) {
	ce := errs.AsCode(err)
	h.log.Warn("upload failed", zap.Error(err))
	c.AbortWithStatusJSON(status, gin.H{"kind": ce.Msg, "code": ce.Code, "message": ce.Message()})
}
