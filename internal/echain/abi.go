package echain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// portalEventABI is the Portal contract's MessageSent event, grounded on
// original_source/commands/followers/eth_follower.py's
// `contract.events.MessageSent()` usage: nonce is the indexed topic the
// listener filters by (argument_filters={"nonce": ...}); the remaining
// fields arrive in the log's data.
const portalEventABI = `[{
	"anonymous": false,
	"name": "MessageSent",
	"type": "event",
	"inputs": [
		{"indexed": true,  "name": "nonce",             "type": "bytes32"},
		{"indexed": false, "name": "source",             "type": "address"},
		{"indexed": false, "name": "destination_chain",  "type": "bytes3"},
		{"indexed": false, "name": "destination",        "type": "bytes32"},
		{"indexed": false, "name": "contents",           "type": "bytes32[]"}
	]
}]`

var messageSentABI abi.ABI

// messageSentTopic is the keccak256 event signature hash (topic0) of
// MessageSent, used to filter logs alongside the indexed nonce topic.
var messageSentTopic = crypto.Keccak256Hash([]byte("MessageSent(bytes32,address,bytes3,bytes32,bytes32[])"))

func init() {
	parsed, err := abi.JSON(strings.NewReader(portalEventABI))
	if err != nil {
		panic("echain: invalid embedded Portal ABI: " + err.Error())
	}
	messageSentABI = parsed
}
