package proofs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/merkle"
)

const (
	// ScoreValid is the score given to a bundle that verifies.
	ScoreValid uint32 = 100
	// ScoreInvalid is the score given to anything else.
	ScoreInvalid uint32 = 0
)

// ValidationRequest asks for a serialized bundle to be scored at Timestamp.
type ValidationRequest struct {
	RequestID common.Hash    `json:"request_id"`
	AgentID   common.Address `json:"agent_id"`
	ProofData []byte         `json:"proof_data"`
	Timestamp uint64         `json:"timestamp"`
}

// ValidationResponse carries the score and a human-readable reason.
type ValidationResponse struct {
	RequestID common.Hash `json:"request_id"`
	Score     uint32      `json:"score"`
	Metadata  string      `json:"metadata"`
}

// Valid reports whether the bundle was accepted.
func (r ValidationResponse) Valid() bool { return r.Score == ScoreValid }

// Score decodes the request's proof data and verifies it. Malformed data
// returns a score of zero together with a CodeMalformedBundle error so
// callers can treat it as terminal; a bundle that decodes but fails
// verification is scored zero without an error.
func Score(req ValidationRequest) (ValidationResponse, error) {
	resp := ValidationResponse{RequestID: req.RequestID, Score: ScoreInvalid}

	bundle, err := Unmarshal(req.ProofData)
	if err != nil {
		resp.Metadata = "Behavioral proof verification failed: " + reason(err)
		return resp, err
	}

	ts := req.Timestamp
	if ts > math.MaxInt64 {
		ts = math.MaxInt64
	}
	now := time.Unix(int64(ts), 0).UTC()
	if err := Check(bundle, now); err != nil {
		resp.Metadata = "Behavioral proof verification failed: " + reason(err)
		return resp, nil
	}
	if bundle.Scheme == merkle.SchemeCausal && req.AgentID != (common.Address{}) {
		for _, event := range bundle.Events {
			if event.Actor != req.AgentID {
				resp.Metadata = fmt.Sprintf("Behavioral proof verification failed: event %s does not belong to agent %s",
					event, req.AgentID.Hex())
				return resp, nil
			}
		}
	}

	resp.Score = ScoreValid
	resp.Metadata = fmt.Sprintf("Behavioral proof successfully verified: %d events match %s",
		len(bundle.Events), bundle.Query.String())
	return resp, nil
}

func reason(err error) string {
	var xe *xerrors.Error
	if errors.As(err, &xe) {
		return xe.Message()
	}
	return err.Error()
}
