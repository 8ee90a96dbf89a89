package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/symbol"
	"Behavior-Chain/pkg/logger"
)

type agentsResponse struct {
	AgentCount  int              `json:"agent_count"`
	TotalEvents int              `json:"total_events"`
	Agents      []common.Address `json:"agents"`
}

type historyResponse struct {
	Actor  common.Address  `json:"actor"`
	Events []symbol.Symbol `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Recorder == nil {
		unavailable(w, "recorder")
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleRecordEvent(w, r)
	case http.MethodDelete:
		if err := s.opts.Recorder.Clear(r.Context()); err != nil {
			writeFailure(w, err)
			return
		}
		logger.Audit().Warn("行为记录已清空")
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodDelete)
	}
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var event symbol.Symbol
	if !decodeBody(w, r, &event) {
		s.opts.Metrics.ObserveRecord(string(symbol.CodeFieldValidation))
		return
	}
	if err := s.opts.Recorder.RecordContext(r.Context(), event); err != nil {
		code := xerrors.CodeOf(err)
		s.opts.Metrics.ObserveRecord(string(code))
		logger.Audit().Info("行为事件被拒绝",
			slog.String("actor", event.Actor.Hex()),
			slog.Uint64("nonce", event.Nonce),
			slog.Uint64("sequence", uint64(event.Sequence)),
			slog.String("code", string(code)),
		)
		writeFailure(w, err)
		return
	}
	s.opts.Metrics.ObserveRecord("accepted")
	logger.Audit().Info("行为事件已记录",
		slog.String("actor", event.Actor.Hex()),
		slog.String("name", event.Name),
		slog.Uint64("nonce", event.Nonce),
		slog.Uint64("sequence", uint64(event.Sequence)),
	)
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.opts.Recorder == nil {
		unavailable(w, "recorder")
		return
	}
	agents := s.opts.Recorder.Actors()
	if agents == nil {
		agents = []common.Address{}
	}
	writeJSON(w, http.StatusOK, agentsResponse{
		AgentCount:  s.opts.Recorder.AgentCount(),
		TotalEvents: s.opts.Recorder.TotalEvents(),
		Agents:      agents,
	})
}

// handleAgentEvents 处理 /api/v1/agents/{actor}/events 与 /api/v1/agents/{actor}/last。
func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.opts.Recorder == nil {
		unavailable(w, "recorder")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/")
	raw, view, ok := strings.Cut(rest, "/")
	if !ok || raw == "" || (view != "events" && view != "last") {
		writeError(w, http.StatusNotFound, string(xerrors.CodeNotFound), "未知的路径")
		return
	}
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "actor 不是合法地址")
		return
	}
	actor := common.HexToAddress(raw)

	if view == "last" {
		// 客户端据此推算下一个 nonce 与 sequence。
		last, found := s.opts.Recorder.Last(actor)
		if !found {
			writeError(w, http.StatusNotFound, string(xerrors.CodeNotFound), "该 actor 没有行为记录")
			return
		}
		writeJSON(w, http.StatusOK, last)
		return
	}

	history, found := s.opts.Recorder.History(actor)
	if !found {
		writeError(w, http.StatusNotFound, string(xerrors.CodeNotFound), "该 actor 没有行为记录")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Actor: actor, Events: history})
}
