package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	xerrors "LobsterMarket/internal/errors"
	"LobsterMarket/pkg/logger"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusOf 将错误类别映射为 HTTP 状态码。
func statusOf(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.KindBadRequest:
		return http.StatusBadRequest
	case xerrors.KindUnauthorized:
		return http.StatusUnauthorized
	case xerrors.KindForbidden:
		return http.StatusForbidden
	case xerrors.KindNotFound:
		return http.StatusNotFound
	case xerrors.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError 渲染领域错误。内部错误不向客户端暴露细节。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := errorBody{Code: string(xerrors.CodeOf(err))}
	if status == http.StatusInternalServerError {
		body.Error = "internal server error"
		args := []any{
			"path", r.URL.Path,
			"method", r.Method,
			"code", body.Code,
			"severity", string(xerrors.SeverityOf(err)),
			"error", err.Error(),
		}
		if e, ok := xerrors.From(err); ok && e.Metadata() != nil {
			args = append(args, "metadata", e.Metadata())
		}
		logger.Named("api").Error("请求处理失败", args...)
	} else if e, ok := xerrors.From(err); ok {
		body.Error = e.Message()
	} else {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

// decode 解析请求体，空请求体视为空对象。
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid request body")
	}
	return nil
}
