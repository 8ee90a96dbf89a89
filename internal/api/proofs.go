package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/merkle"
	"Behavior-Chain/internal/pattern"
	"Behavior-Chain/internal/proofs"
	"Behavior-Chain/internal/symbol"
	"Behavior-Chain/pkg/logger"
)

type generateRequest struct {
	Actor   common.Address        `json:"actor"`
	Pattern string                `json:"pattern,omitempty"`
	Agent   *pattern.AgentPattern `json:"agent,omitempty"`
	Now     int64                 `json:"now,omitempty"`
}

type verifyRequest struct {
	Bundle json.RawMessage `json:"bundle"`
	Now    int64           `json:"now,omitempty"`
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type batchRequest struct {
	Bundles []json.RawMessage `json:"bundles"`
	Now     int64             `json:"now,omitempty"`
}

type batchResponse struct {
	Results []bool `json:"results"`
}

type exportRequest struct {
	ChainID      uint64         `json:"chain_id"`
	BlockNumber  uint64         `json:"block_number"`
	BeaconRoot   common.Hash    `json:"beacon_root"`
	Timestamp    uint64         `json:"timestamp"`
	ReceiptsRoot common.Hash    `json:"receipts_root"`
	Signature    hexutil.Bytes  `json:"signature,omitempty"`
	Signer       common.Address `json:"signer"`
}

type exportResponse struct {
	Proof    *proofs.OnChain `json:"proof"`
	Calldata hexutil.Bytes   `json:"calldata"`
}

// logInput 是 EVM 日志的精简输入形式。
type logInput struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
	Index   uint           `json:"log_index"`
	TxHash  common.Hash    `json:"tx_hash"`
}

type blockProofRequest struct {
	Logs    []logInput `json:"logs"`
	Pattern string     `json:"pattern"`
	Now     int64      `json:"now,omitempty"`
}

func (s *Server) query(req generateRequest) (pattern.Query, error) {
	switch {
	case req.Pattern != "" && req.Agent != nil:
		return pattern.Query{}, xerrors.New(xerrors.CodeInvalidArgument, "pattern 与 agent 只能指定一个")
	case req.Agent != nil:
		q := pattern.AgentQuery(*req.Agent)
		return q, q.Validate()
	default:
		p, err := s.opts.Parser.Parse(req.Pattern)
		if err != nil {
			return pattern.Query{}, err
		}
		return pattern.DSLQuery(p), nil
	}
}

// handleGenerateProof 为某个 actor 的因果历史生成证明包。
func (s *Server) handleGenerateProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.opts.Recorder == nil {
		unavailable(w, "recorder")
		return
	}
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	q, err := s.query(req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	tree, ok := s.opts.Recorder.Tree(req.Actor)
	if !ok {
		writeError(w, http.StatusNotFound, string(xerrors.CodeNotFound), "该 actor 没有行为记录")
		return
	}
	s.respondBundle(w, r, tree, q, req.Now)
}

// handleBlockProof 将一个区块内的日志解码为符号并在区块索引树上生成证明包。
func (s *Server) handleBlockProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.opts.Dictionary == nil {
		unavailable(w, "dictionary")
		return
	}
	var req blockProofRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.opts.Parser.Parse(req.Pattern)
	if err != nil {
		writeFailure(w, err)
		return
	}
	logs, err := toLogs(req.Logs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	symbols := s.opts.Dictionary.ParseLogs(logs)
	s.respondBundle(w, r, merkle.NewBlockTree(symbols), pattern.DSLQuery(p), req.Now)
}

func (s *Server) respondBundle(w http.ResponseWriter, r *http.Request, tree *merkle.Tree, q pattern.Query, now int64) {
	bundle, err := proofs.Generate(tree, q, s.now(now))
	if err != nil {
		s.opts.Metrics.ObserveBundle("generate", string(xerrors.CodeOf(err)))
		writeFailure(w, err)
		return
	}
	s.opts.Metrics.ObserveBundle("generate", "ok")
	if s.opts.Cache != nil {
		if err := s.opts.Cache.Put(r.Context(), bundle); err != nil {
			logger.L().Warn("缓存证明包失败", slog.Any("error", err), slog.String("bundle_id", bundle.ID.String()))
		}
	}
	logger.Audit().Info("证明包已生成",
		slog.String("bundle_id", bundle.ID.String()),
		slog.String("scheme", bundle.Scheme.String()),
		slog.String("query", q.String()),
		slog.Int("events", len(bundle.Events)),
		slog.String("root", bundle.Root.Hex()),
	)
	writeJSON(w, http.StatusCreated, bundle)
}

// toLogs 转换输入日志；log_index 必须落在区块位置的 uint32 范围内。
func toLogs(in []logInput) ([]*types.Log, error) {
	logs := make([]*types.Log, len(in))
	for i, l := range in {
		if uint64(l.Index) > math.MaxUint32 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("logs[%d].log_index %d 超出范围", i, l.Index),
				xerrors.WithMetadata("field", "log_index"))
		}
		logs[i] = &types.Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			Index:   l.Index,
			TxHash:  l.TxHash,
		}
	}
	return logs, nil
}

func (s *Server) handleDecodeLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.opts.Dictionary == nil {
		unavailable(w, "dictionary")
		return
	}
	var req struct {
		Logs []logInput `json:"logs"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	logs, err := toLogs(req.Logs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	symbols := s.opts.Dictionary.ParseLogs(logs)
	writeJSON(w, http.StatusOK, map[string][]symbol.Symbol{"symbols": symbols})
}

// handleVerifyProof 校验客户端提交的证明包。无论输入如何都不返回 5xx。
func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bundle, err := proofs.Unmarshal(req.Bundle)
	if err == nil {
		err = proofs.Check(bundle, s.now(req.Now))
	}
	if err != nil {
		s.opts.Metrics.ObserveBundle("verify", "invalid")
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false, Code: string(xerrors.CodeOf(err)), Reason: err.Error()})
		return
	}
	s.opts.Metrics.ObserveBundle("verify", "valid")
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true})
}

func (s *Server) handleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bundles := make([]*proofs.Bundle, len(req.Bundles))
	for i, raw := range req.Bundles {
		// 无法解析的证明包保持为 nil，校验结果为 false。
		bundles[i], _ = proofs.Unmarshal(raw)
	}
	results, err := proofs.VerifyBatch(r.Context(), bundles, s.now(req.Now), s.opts.VerifyWorkers)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeTimeout), err.Error())
		return
	}
	for _, ok := range results {
		outcome := "invalid"
		if ok {
			outcome = "valid"
		}
		s.opts.Metrics.ObserveBundle("verify", outcome)
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

// handleProofDetail 处理 /api/v1/proofs/{id} 与 /api/v1/proofs/{id}/export。
func (s *Server) handleProofDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/proofs/")
	raw, export := strings.CutSuffix(rest, "/export")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "证明包 ID 不合法")
		return
	}
	if s.opts.Cache == nil {
		unavailable(w, "bundle cache")
		return
	}

	if !export {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		bundle, err := s.opts.Cache.Get(r.Context(), id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bundle)
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bundle, err := s.opts.Cache.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if len(req.Signature) > 0 {
		commitment := proofs.Commitment{
			ChainID:      req.ChainID,
			BlockNumber:  req.BlockNumber,
			ReceiptsRoot: req.ReceiptsRoot,
			Root:         bundle.Root,
		}
		if !commitment.SignedBy(req.Signature, req.Signer) {
			writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "签名与 signer 不匹配")
			return
		}
	}
	onchain, err := proofs.Export(bundle, proofs.ExportOptions{
		ChainID:      req.ChainID,
		BlockNumber:  req.BlockNumber,
		BeaconRoot:   req.BeaconRoot,
		Timestamp:    req.Timestamp,
		ReceiptsRoot: req.ReceiptsRoot,
		Signature:    req.Signature,
		Signer:       req.Signer,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	calldata, err := onchain.Calldata()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Proof: onchain, Calldata: calldata})
}

func (s *Server) handleParsePattern(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Pattern string `json:"pattern"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.opts.Parser.Parse(req.Pattern)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pattern":   p.Source(),
		"steps":     p.Steps(),
		"min_count": p.MinCount(),
	})
}
