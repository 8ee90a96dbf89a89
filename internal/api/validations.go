package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/validation"
)

func (s *Server) handleValidations(w http.ResponseWriter, r *http.Request) {
	if s.opts.Validations == nil {
		unavailable(w, "validation service")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req validation.SubmitRequest
		if !decodeBody(w, r, &req) {
			return
		}
		state, err := s.opts.Validations.Submit(r.Context(), req)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, state)
	case http.MethodGet:
		opts, err := listOptions(r)
		if err != nil {
			writeFailure(w, err)
			return
		}
		requests, err := s.opts.Validations.List(r.Context(), opts...)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// listOptions 解析 status、agent、limit、offset 与 order 查询参数。
func listOptions(r *http.Request) ([]validation.ListOption, error) {
	q := r.URL.Query()
	var opts []validation.ListOption
	if raw := q.Get("status"); raw != "" {
		var statuses []validation.Status
		for _, part := range strings.Split(raw, ",") {
			status := validation.Status(strings.TrimSpace(part))
			if !validation.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的 status: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, validation.WithStatuses(statuses...))
	}
	if raw := q.Get("agent"); raw != "" {
		if !common.IsHexAddress(raw) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent 不是合法地址")
		}
		opts = append(opts, validation.WithAgent(common.HexToAddress(raw)))
	}
	for _, name := range []string{"limit", "offset"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, name+" 必须是非负整数")
		}
		if name == "limit" {
			opts = append(opts, validation.WithLimit(n))
		} else {
			opts = append(opts, validation.WithOffset(n))
		}
	}
	if q.Get("order") == "asc" {
		opts = append(opts, validation.WithSortOrder(validation.SortByUpdatedAsc))
	}
	return opts, nil
}

// handleValidationDetail 处理 /api/v1/validations/{id} 与 /api/v1/validations/stats。
func (s *Server) handleValidationDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.opts.Validations == nil {
		unavailable(w, "validation service")
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/validations/")
	if raw == "stats" {
		opts, err := listOptions(r)
		if err != nil {
			writeFailure(w, err)
			return
		}
		stats, err := s.opts.Validations.Stats(r.Context(), opts...)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		writeError(w, http.StatusBadRequest, string(validation.CodeRequestInvalid), "request_id 必须是 32 字节十六进制")
		return
	}
	state, err := s.opts.Validations.Get(r.Context(), common.BytesToHash(b))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
