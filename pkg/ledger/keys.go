package ledger

import (
	"fmt"

	"github.com/uhyunpark/stocksim/pkg/orderbook"
)

// Pebble key schema. Numeric ids are zero-padded so prefix scans return them in id order.
const (
	prefixUser     = "user:"  // user:{id}
	prefixUsername = "uname:" // uname:{username} -> id
	prefixHolding  = "hold:"  // hold:{userID}:{ticker}
	prefixOrder    = "ord:"   // ord:{id}
	prefixPending  = "pend:"  // pend:{id} -> ticker, only while PENDING
	prefixUserOrd  = "uord:"  // uord:{userID}:{id}
	prefixTx       = "tx:"    // tx:{userID}:{txID}
	prefixFill     = "fill:"  // fill:{tradeID}:{side}, settled fills
	prefixSeq      = "seq:"   // seq:{name}
	prefixPrice    = "price:" // price:{ticker}
)

func userKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixUser, id))
}

func usernameKey(name string) []byte {
	return []byte(prefixUsername + name)
}

func holdingKey(userID uint64, ticker string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixHolding, userID, ticker))
}

func holdingPrefix(userID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixHolding, userID))
}

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func pendingKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixPending, id))
}

func userOrderKey(userID, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixUserOrd, userID, id))
}

func userOrderPrefix(userID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixUserOrd, userID))
}

func txKey(userID, txID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixTx, userID, txID))
}

func txPrefix(userID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixTx, userID))
}

func fillKey(tradeID string, side orderbook.Side) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixFill, tradeID, side))
}

func seqKey(name string) []byte {
	return []byte(prefixSeq + name)
}

func priceKey(ticker string) []byte {
	return []byte(prefixPrice + ticker)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
