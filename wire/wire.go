// Package wire defines the JSON-encoded tagged-union transaction
// envelope that crosses the host adapter boundary in check_tx and
// deliver_tx.
package wire

import (
	"encoding/json"

	"github.com/BlockscapeNetwork/nomic/errors"
)

// Type discriminates the transaction envelope's variant.
type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
	TypeHeader     Type = "header"
	TypeSignature  Type = "signature"
	TypeWorkProof  Type = "work_proof"
)

// Envelope is the wire format of a single transaction: a type tag plus
// its variant-specific payload, deserialized with Decode.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Deposit is the wire payload of a deposit transaction.
type Deposit struct {
	Height     uint64   `json:"height"`
	Proof      []byte   `json:"proof"`
	Tx         []byte   `json:"tx"`
	BlockIndex uint32   `json:"block_index"`
	Recipients [][]byte `json:"recipients"`
}

// Withdrawal is the wire payload of a withdrawal transaction.
type Withdrawal struct {
	From      []byte `json:"from"`
	To        []byte `json:"to"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature []byte `json:"signature"`
}

// Header is the wire payload of a header transaction: one or more
// Bitcoin-encoded block headers to append to the SPV cache in order.
type Header struct {
	BlockHeaders [][]byte `json:"block_headers"`
}

// Signature is the wire payload of a checkpoint-signing transaction.
type Signature struct {
	Signatures     [][]byte `json:"signatures"`
	SignatoryIndex uint32   `json:"signatory_index"`
}

// WorkProof is the wire payload of an out-of-band work-proof
// submission.
type WorkProof struct {
	PublicKey []byte `json:"public_key"`
	Nonce     uint64 `json:"nonce"`
}

// Decode unmarshals raw into an Envelope and its typed payload.
func Decode(raw []byte) (Type, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, errors.New(errors.ERR_DESERIALIZATION, "wire: decode envelope", err)
	}

	var payload interface{}
	switch env.Type {
	case TypeDeposit:
		payload = &Deposit{}
	case TypeWithdrawal:
		payload = &Withdrawal{}
	case TypeHeader:
		payload = &Header{}
	case TypeSignature:
		payload = &Signature{}
	case TypeWorkProof:
		payload = &WorkProof{}
	default:
		return "", nil, errors.New(errors.ERR_DESERIALIZATION, "wire: unknown transaction type %q", string(env.Type))
	}

	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return "", nil, errors.New(errors.ERR_DESERIALIZATION, "wire: decode payload", err)
	}
	return env.Type, payload, nil
}

// Encode wraps payload in an Envelope tagged with typ.
func Encode(typ Type, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: body})
}
