package host

import (
	"context"

	"github.com/BlockscapeNetwork/nomic/errors"
	"github.com/BlockscapeNetwork/nomic/store"
	"github.com/BlockscapeNetwork/nomic/validators"
)

// validatorsKey is the reserved store key the validator map is
// persisted under.
const validatorsKey = "validators"

func loadValidators(ctx context.Context, kv store.KV) (validators.Map, error) {
	raw, ok, err := kv.Get(ctx, []byte(validatorsKey))
	if err != nil {
		return nil, errors.New(errors.ERR_STORE, "host: load validators", err)
	}
	if !ok {
		return validators.Map{}, nil
	}
	return validators.Decode(raw)
}

func saveValidators(ctx context.Context, kv store.KV, m validators.Map) error {
	if err := kv.Put(ctx, []byte(validatorsKey), m.Encode()); err != nil {
		return errors.New(errors.ERR_STORE, "host: save validators", err)
	}
	return nil
}
