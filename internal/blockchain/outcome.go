package blockchain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ExecutionStatus is the status of a transaction or receipt. Exactly one field is set
// once execution finished.
type ExecutionStatus struct {
	SuccessValue     *string         `json:"SuccessValue,omitempty"`
	SuccessReceiptID *string         `json:"SuccessReceiptId,omitempty"`
	Failure          json.RawMessage `json:"Failure,omitempty"`
}

// UnmarshalJSON accepts the bare string forms "Unknown" and "NotStarted".
func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		*s = ExecutionStatus{}
		return nil
	}
	type plain ExecutionStatus
	return json.Unmarshal(data, (*plain)(s))
}

type OutcomeView struct {
	Logs   []string        `json:"logs"`
	Status ExecutionStatus `json:"status"`
}

type OutcomeWithID struct {
	ID      string      `json:"id"`
	Outcome OutcomeView `json:"outcome"`
}

// TxOutcome is the FinalExecutionOutcome returned by broadcast_tx_commit.
type TxOutcome struct {
	Status             ExecutionStatus `json:"status"`
	TransactionOutcome OutcomeWithID   `json:"transaction_outcome"`
	ReceiptsOutcome    []OutcomeWithID `json:"receipts_outcome"`
}

// TxFailure is a transaction that was included but failed to execute.
type TxFailure struct {
	Hash    string
	Failure json.RawMessage
}

func (e *TxFailure) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.Hash, string(e.Failure))
}

// Err returns a *TxFailure when the transaction or any of its receipts failed.
func (o *TxOutcome) Err() error {
	if len(o.Status.Failure) > 0 {
		return &TxFailure{Hash: o.TransactionOutcome.ID, Failure: o.Status.Failure}
	}
	for _, r := range o.ReceiptsOutcome {
		if len(r.Outcome.Status.Failure) > 0 {
			return &TxFailure{Hash: o.TransactionOutcome.ID, Failure: r.Outcome.Status.Failure}
		}
	}
	return nil
}

func (o *TxOutcome) Logs() []string {
	var logs []string
	logs = append(logs, o.TransactionOutcome.Outcome.Logs...)
	for _, r := range o.ReceiptsOutcome {
		logs = append(logs, r.Outcome.Logs...)
	}
	return logs
}

// SuccessValue decodes the base64 return value of the final receipt.
func (o *TxOutcome) SuccessValue() ([]byte, error) {
	if o.Status.SuccessValue == nil {
		return nil, errors.New("transaction has no return value")
	}
	return base64.StdEncoding.DecodeString(*o.Status.SuccessValue)
}

const eventPrefix = "EVENT_JSON:"

type nep171Event struct {
	Standard string `json:"standard"`
	Event    string `json:"event"`
	Data     []struct {
		OwnerID  string   `json:"owner_id"`
		TokenIDs []string `json:"token_ids"`
	} `json:"data"`
}

// MintedTokenID reads the id of the token minted by nft_mint. The contract's return
// value is used first, then the nft_mint event in the logs.
func (o *TxOutcome) MintedTokenID() (string, error) {
	if value, err := o.SuccessValue(); err == nil && len(value) > 0 {
		var token struct {
			TokenID string `json:"token_id"`
		}
		if json.Unmarshal(value, &token) == nil && token.TokenID != "" {
			return token.TokenID, nil
		}
	}

	for _, line := range o.Logs() {
		payload, found := strings.CutPrefix(line, eventPrefix)
		if !found {
			continue
		}
		var event nep171Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}
		if event.Standard != "nep171" || event.Event != "nft_mint" {
			continue
		}
		for _, data := range event.Data {
			if len(data.TokenIDs) > 0 {
				return data.TokenIDs[0], nil
			}
		}
	}
	return "", fmt.Errorf("token id not found in outcome of transaction %s", o.TransactionOutcome.ID)
}
