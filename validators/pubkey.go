package validators

import (
	"github.com/BlockscapeNetwork/nomic/btcpeg"
)

func parsePubKeyBytes(b []byte) (btcpeg.Address, error) {
	return btcpeg.ParseAddress(b)
}
