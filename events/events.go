// Package events publishes peg state transitions to Kafka so external
// observers (relayers, explorers, alerting) can react without polling
// the store directly: a sync producer sending a keyed JSON payload to
// a fixed topic.
package events

import (
	"encoding/json"

	"github.com/IBM/sarama"

	"github.com/BlockscapeNetwork/nomic/ulogger"
)

// Kind tags the event variants this package publishes.
type Kind string

const (
	KindDeposit            Kind = "deposit"
	KindWithdrawal         Kind = "withdrawal"
	KindCheckpointOpened   Kind = "checkpoint_opened"
	KindCheckpointFinalize Kind = "checkpoint_finalized"
)

// Event is the JSON envelope published for every peg state transition
// worth observing externally.
type Event struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Publisher sends Events to a fixed Kafka topic. Deposit and withdrawal
// events are keyed by address, so events about the same address land
// on the same partition and preserve order; checkpoint events are
// published with no key.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      ulogger.Logger
}

// New builds a Publisher over brokers.
func New(brokers []string, topic string, log ulogger.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{producer: producer, topic: topic, log: log}, nil
}

// Publish sends an Event of kind, partitioned by key, with payload
// marshaled as its JSON data.
func (p *Publisher) Publish(kind Kind, key []byte, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(Event{Kind: kind, Data: data})
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(envelope),
	})
	if err != nil {
		p.log.Errorf("events: publish %s failed: %v", kind, err)
		return err
	}
	return nil
}

// Close releases the underlying producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}

// DepositPayload is the JSON body of a KindDeposit event.
type DepositPayload struct {
	Recipient string `json:"recipient"`
	Txid      string `json:"txid"`
	Vout      uint32 `json:"vout"`
	Value     uint64 `json:"value"`
}

// WithdrawalPayload is the JSON body of a KindWithdrawal event.
type WithdrawalPayload struct {
	Sender      string `json:"sender"`
	Destination string `json:"destination_script_hex"`
	Value       uint64 `json:"value"`
	Nonce       uint64 `json:"nonce"`
}

// CheckpointOpenedPayload is the JSON body of a KindCheckpointOpened
// event.
type CheckpointOpenedPayload struct {
	CheckpointIndex uint64 `json:"checkpoint_index"`
	InputCount      int    `json:"input_count"`
	OutputValue     uint64 `json:"output_value"`
}

// CheckpointFinalizedPayload is the JSON body of a
// KindCheckpointFinalize event.
type CheckpointFinalizedPayload struct {
	CheckpointIndex uint64 `json:"checkpoint_index"`
	RawTxHex        string `json:"raw_tx_hex"`
}
