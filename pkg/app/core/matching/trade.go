package matching

import "github.com/ethereum/go-ethereum/common"

// Trade is a Fill as recorded in a market's history
type Trade struct {
	Seq       uint64         `json:"seq"`
	Market    common.Address `json:"market"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
	Fill
}
