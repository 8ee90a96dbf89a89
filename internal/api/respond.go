package api

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/merkle"
	"Behavior-Chain/internal/pattern"
	"Behavior-Chain/internal/proofs"
	"Behavior-Chain/internal/recorder"
	"Behavior-Chain/internal/symbol"
	"Behavior-Chain/internal/validation"
	"Behavior-Chain/pkg/logger"
)

type errorBody struct {
	Code     string  `json:"code"`
	Message  string  `json:"message"`
	Expected *uint64 `json:"expected,omitempty"`
	Actual   *uint64 `json:"actual,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", fmt.Sprintf("仅支持 %v", allowed))
}

func unavailable(w http.ResponseWriter, component string) {
	writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), component+" 未初始化")
}

// decodeBody 解析 JSON 请求体并限制大小。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if code := xerrors.CodeOf(err); code != xerrors.CodeUnknown {
			writeFailure(w, err)
			return false
		}
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败: "+err.Error())
		return false
	}
	return true
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case symbol.CodeFieldValidation,
		pattern.CodePatternInvalid,
		pattern.CodePatternTimeout,
		merkle.CodeMalformedProof,
		proofs.CodeMalformedBundle,
		validation.CodeRequestInvalid,
		xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case recorder.CodeSequenceGap, recorder.CodeNonceGap, xerrors.CodeConflict, validation.CodeRequestConflict:
		return http.StatusConflict
	case proofs.CodeInsufficientOccurrences:
		return http.StatusUnprocessableEntity
	case xerrors.CodeNotFound, validation.CodeRequestNotFound:
		return http.StatusNotFound
	case xerrors.CodeInitializationFailure, validation.CodeRequestPublish, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure 输出结构化错误，顺序缺口额外携带 expected 与 actual。
func writeFailure(w http.ResponseWriter, err error) {
	body := errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}

	var nonceGap *recorder.NonceGapError
	var seqGap *recorder.SequenceGapError
	switch {
	case stdErrors.As(err, &nonceGap):
		body.Expected, body.Actual = &nonceGap.Expected, &nonceGap.Actual
	case stdErrors.As(err, &seqGap):
		expected, actual := uint64(seqGap.Expected), uint64(seqGap.Actual)
		body.Expected, body.Actual = &expected, &actual
	}

	status := statusFor(xerrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", slog.Any("error", err), slog.String("code", body.Code))
	}
	writeJSON(w, status, body)
}
