// Package events defines the bus topics and JSON payloads exchanged between
// the problem service, the credit service and external solvers.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"solveq/internal/common/mq"
	pkgerrors "solveq/pkg/errors"

	"github.com/google/uuid"
)

// Transaction types.
const (
	TransactionAddCredits = "ADD_CREDITS"
	TransactionCharge     = "CHARGE"
)

// Topics names every topic; defaults match the solver contract.
type Topics struct {
	ExecuteRequest     string `yaml:"executeRequest"`
	ExecuteResponse    string `yaml:"executeResponse"`
	Result             string `yaml:"result"`
	Resend             string `yaml:"resend"`
	Deleted            string `yaml:"deleted"`
	ChargeUser         string `yaml:"chargeUser"`
	BlockUser          string `yaml:"blockUser"`
	TransactionCreated string `yaml:"transactionCreated"`
	CreditsChanged     string `yaml:"creditsChanged"`
}

// DefaultTopics returns the standard topic names.
func DefaultTopics() Topics {
	return Topics{
		ExecuteRequest:     "problem-execute-req",
		ExecuteResponse:    "problem-execute-res",
		Result:             "problem-result",
		Resend:             "problem-execute-resend",
		Deleted:            "problem-deleted",
		ChargeUser:         "credits-charge-user",
		BlockUser:          "block-user",
		TransactionCreated: "transaction-created",
		CreditsChanged:     "credits-changed",
	}
}

// WithDefaults fills empty names from DefaultTopics.
func (t Topics) WithDefaults() Topics {
	d := DefaultTopics()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.ExecuteRequest, d.ExecuteRequest)
	fill(&t.ExecuteResponse, d.ExecuteResponse)
	fill(&t.Result, d.Result)
	fill(&t.Resend, d.Resend)
	fill(&t.Deleted, d.Deleted)
	fill(&t.ChargeUser, d.ChargeUser)
	fill(&t.BlockUser, d.BlockUser)
	fill(&t.TransactionCreated, d.TransactionCreated)
	fill(&t.CreditsChanged, d.CreditsChanged)
	return t
}

// ID is an entity identifier. Solvers may send it as a JSON number or string.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", string(data))
	}
	*id = ID(v)
	return nil
}

// ExecuteRequest asks a solver to run a problem.
type ExecuteRequest struct {
	ProblemID ID     `json:"problemId"`
	ModelID   ID     `json:"modelId"`
	InputData string `json:"inputData"`
	Metadata  string `json:"metadata"`
}

// ExecuteResponse is the solver acknowledgement. A non-empty Error rejects the input.
type ExecuteResponse struct {
	ProblemID ID     `json:"problemId"`
	Error     string `json:"error,omitempty"`
}

// Result is the final solver outcome.
type Result struct {
	ProblemID     ID      `json:"problemId"`
	Error         string  `json:"error,omitempty"`
	ExecutionTime float64 `json:"executionTime,omitempty"`
	Result        string  `json:"result,omitempty"`
}

// ProblemRef carries only a problem identity (resend, deleted).
type ProblemRef struct {
	ProblemID ID `json:"problemId"`
}

// ChargeUser debits Amount credits from user ID.
type ChargeUser struct {
	ID        ID    `json:"id"`
	Amount    int64 `json:"amount"`
	ProblemID *ID   `json:"problemId,omitempty"`
}

// BlockUser replicates the block flag of a user.
type BlockUser struct {
	UserID ID   `json:"userId"`
	Block  bool `json:"block"`
}

// TransactionCreated appends a ledger entry for user ID.
type TransactionCreated struct {
	TransactionID string `json:"transactionId"`
	ID            ID     `json:"id"`
	Amount        int64  `json:"amount"`
	Type          string `json:"type"`
	Description   string `json:"description"`
	ProblemID     *ID    `json:"problemId,omitempty"`
}

// CreditsChanged announces a new balance.
type CreditsChanged struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
}

// Encode marshals payload into a bus message. An empty id gets a random one.
// Messages about one problem or user share key so they land on one partition.
func Encode(id string, key int64, payload interface{}) (*mq.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.InternalServerError, "encode event failed")
	}
	msg := mq.NewMessage(body)
	if id == "" {
		id = uuid.NewString()
	}
	msg.ID = id
	if key != 0 {
		msg.Key = strconv.FormatInt(key, 10)
	}
	return msg, nil
}

// Decode unmarshals a message body into v.
func Decode(message *mq.Message, v interface{}) error {
	if message == nil || len(message.Body) == 0 {
		return pkgerrors.New(pkgerrors.MalformedMessage).WithMessage("empty message")
	}
	if err := json.Unmarshal(message.Body, v); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.MalformedMessage, "decode event failed")
	}
	return nil
}

// ChargeMessageID is the deterministic id of the charge for one result, used
// by the credit service to drop redeliveries.
func ChargeMessageID(problemID int64, resultID string) string {
	return fmt.Sprintf("charge:%d:%s", problemID, resultID)
}

// IDPtr returns a pointer to id, or nil when id is zero.
func IDPtr(id int64) *ID {
	if id == 0 {
		return nil
	}
	v := ID(id)
	return &v
}
