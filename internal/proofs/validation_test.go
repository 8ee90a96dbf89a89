package proofs

import (
	"math"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/merkle"
	"Behavior-Chain/internal/pattern"
	"Behavior-Chain/internal/symbol"
)

func serializedBundle(t *testing.T, actor common.Address, n int, result string) []byte {
	t.Helper()
	b, err := Generate(merkle.NewCausalTree(trades(actor, n, symbol.ResultProfit)), profitQuery(n), now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for i := range b.Events {
		b.Events[i].Result = result
	}
	data, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestScore(t *testing.T) {
	requestID := common.HexToHash("0x01")
	cases := []struct {
		name    string
		req     ValidationRequest
		score   uint32
		prefix  string
		errCode xerrors.Code
	}{
		{
			name:   "valid",
			req:    ValidationRequest{RequestID: requestID, AgentID: agent, ProofData: serializedBundle(t, agent, 10, symbol.ResultProfit), Timestamp: uint64(now.Unix())},
			score:  ScoreValid,
			prefix: "Behavioral proof successfully verified",
		},
		{
			name:   "any agent",
			req:    ValidationRequest{RequestID: requestID, ProofData: serializedBundle(t, agent, 2, symbol.ResultProfit), Timestamp: uint64(now.Unix())},
			score:  ScoreValid,
			prefix: "Behavioral proof successfully verified",
		},
		{
			name:   "tampered",
			req:    ValidationRequest{RequestID: requestID, AgentID: agent, ProofData: serializedBundle(t, agent, 10, symbol.ResultLoss), Timestamp: uint64(now.Unix())},
			score:  ScoreInvalid,
			prefix: "Behavioral proof verification failed: ",
		},
		{
			name:   "wrong agent",
			req:    ValidationRequest{RequestID: requestID, AgentID: other, ProofData: serializedBundle(t, agent, 3, symbol.ResultProfit), Timestamp: uint64(now.Unix())},
			score:  ScoreInvalid,
			prefix: "Behavioral proof verification failed: ",
		},
		{
			name:    "malformed",
			req:     ValidationRequest{RequestID: requestID, ProofData: []byte("not a bundle")},
			score:   ScoreInvalid,
			prefix:  "Behavioral proof verification failed: ",
			errCode: CodeMalformedBundle,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := Score(tc.req)
			if tc.errCode != "" {
				if xerrors.CodeOf(err) != tc.errCode {
					t.Fatalf("expected %s, got %v", tc.errCode, err)
				}
			} else if err != nil {
				t.Fatalf("score: %v", err)
			}
			if resp.Score != tc.score || resp.RequestID != requestID {
				t.Fatalf("unexpected response %+v", resp)
			}
			if !strings.HasPrefix(resp.Metadata, tc.prefix) {
				t.Fatalf("unexpected metadata %q", resp.Metadata)
			}
			if resp.Valid() != (tc.score == ScoreValid) {
				t.Fatalf("Valid disagrees with score")
			}
		})
	}
}

func TestScoreClampsFarFutureTimestamp(t *testing.T) {
	query := pattern.AgentQuery(pattern.AgentPattern{EventType: "trade_executed", MinCount: 3, TimeWindow: 2000})
	b, err := Generate(merkle.NewCausalTree(trades(agent, 3, symbol.ResultProfit)), query, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	data, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := Score(ValidationRequest{AgentID: agent, ProofData: data, Timestamp: uint64(now.Unix())})
	if err != nil || !resp.Valid() {
		t.Fatalf("bundle must verify at generation time: %v %+v", err, resp)
	}
	resp, err = Score(ValidationRequest{AgentID: agent, ProofData: data, Timestamp: math.MaxUint64})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if resp.Valid() {
		t.Fatalf("a timestamp beyond int64 must not wrap into the past: %+v", resp)
	}
}
