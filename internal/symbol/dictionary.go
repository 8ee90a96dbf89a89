package symbol

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	xerrors "Behavior-Chain/internal/errors"
)

// Core event signatures and their symbol codes.
const (
	SigTransfer              = "Transfer(address,address,uint256)"
	SigDeposit               = "Deposit(address,uint256)"
	SigWithdrawal            = "Withdrawal(address,uint256)"
	SigSwapV2                = "Swap(address,uint256,uint256,uint256,uint256,address)"
	SigSwapV3                = "Swap(address,address,int256,int256,uint160,uint128,int24)"
	SigMintV2                = "Mint(address,uint256,uint256)"
	SigBurnV2                = "Burn(address,uint256,uint256,address)"
	SigSeaportFulfilled      = "OrderFulfilled(bytes32,address,address,address,(uint8,address,uint256,uint256)[],(uint8,address,uint256,uint256,address)[])"
	SigBlurOrdersMatched     = "OrdersMatched(address,uint256,bytes32,uint256,address,uint256,uint256,uint256,uint256)"
	SigOptimismDeposit       = "DepositFinalized(address,address,address,address,uint256,bytes)"
	SigArbitrumOutbound      = "OutboundTransferInitiated(address,address,address,uint256,uint256,bytes)"
	SigScrollMessageSent     = "MessageSent(address,address,uint256,uint256,bytes)"
	SigScrollFinalizeDeposit = "FinalizeDepositERC20(address,address,address,address,uint256,bytes)"
	SigScrollWithdrawal      = "WithdrawalInitiated(address,address,address,address,uint256,bytes)"
)

var coreSignatures = []struct {
	signature string
	code      string
	parser    ParserKind
}{
	{SigTransfer, "Tf", ParserTransfer},
	{SigDeposit, "Dep", ParserGeneric},
	{SigWithdrawal, "Wdw", ParserGeneric},
	{SigSwapV2, "Sw", ParserSwap},
	{SigSwapV3, "Sw", ParserSwap},
	{SigMintV2, "LP+", ParserGeneric},
	{SigBurnV2, "LP-", ParserGeneric},
	{SigSeaportFulfilled, "BuyNFT", ParserGeneric},
	{SigBlurOrdersMatched, "ListNFT", ParserGeneric},
	{SigOptimismDeposit, "BridgeIn", ParserGeneric},
	{SigArbitrumOutbound, "BridgeOut", ParserGeneric},
	{SigScrollMessageSent, "BridgeOut", ParserGeneric},
	{SigScrollFinalizeDeposit, "BridgeIn", ParserGeneric},
	{SigScrollWithdrawal, "BridgeOut", ParserGeneric},
}

// ParserKind selects how context fields are pulled out of a log.
type ParserKind string

const (
	// ParserGeneric only maps the topic to a symbol.
	ParserGeneric ParserKind = "generic"
	// ParserTransfer reads from/to from topics 1 and 2 and the amount from data.
	ParserTransfer ParserKind = "transfer"
	// ParserSwap reads the sender from topic 1.
	ParserSwap ParserKind = "swap"
)

// Topic0 returns the Keccak-256 hash of an event signature.
func Topic0(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// Plugin describes a custom topic mapping, usually loaded from YAML.
type Plugin struct {
	Name       string     `yaml:"name"`
	Symbol     string     `yaml:"symbol"`
	Chain      string     `yaml:"chain,omitempty"`
	EventTopic string     `yaml:"event_topic"`
	Parser     ParserKind `yaml:"parser"`
}

type entry struct {
	code   string
	parser ParserKind
}

// Dictionary maps event topics to symbol codes.
type Dictionary struct {
	mu        sync.RWMutex
	entries   map[common.Hash]entry
	deployers *DeployerRegistry
}

// DictionaryOption configures a Dictionary.
type DictionaryOption func(*Dictionary)

// WithDeployers lets ParseLog flag actions sent by a contract's deployer.
func WithDeployers(registry *DeployerRegistry) DictionaryOption {
	return func(d *Dictionary) { d.deployers = registry }
}

// NewDictionary returns a dictionary preloaded with the core signatures.
func NewDictionary(opts ...DictionaryOption) *Dictionary {
	d := &Dictionary{entries: make(map[common.Hash]entry, len(coreSignatures))}
	for _, sig := range coreSignatures {
		d.entries[Topic0(sig.signature)] = entry{code: sig.code, parser: sig.parser}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Len returns the number of registered topics.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Lookup returns the symbol code registered for topic.
func (d *Dictionary) Lookup(topic common.Hash) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[topic]
	return e.code, ok
}

// Register adds or replaces a topic mapping.
func (d *Dictionary) Register(topic common.Hash, code string, parser ParserKind) error {
	if err := ValidateName(code); err != nil {
		return err
	}
	switch parser {
	case "":
		parser = ParserGeneric
	case ParserGeneric, ParserTransfer, ParserSwap:
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown parser %q", parser))
	}
	d.mu.Lock()
	d.entries[topic] = entry{code: code, parser: parser}
	d.mu.Unlock()
	return nil
}

// RegisterPlugin adds a plugin mapping.
func (d *Dictionary) RegisterPlugin(p Plugin) error {
	if !isHash(p.EventTopic) {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("plugin %q: event_topic must be a 32-byte hex string", p.Name))
	}
	return d.Register(common.HexToHash(p.EventTopic), p.Symbol, p.Parser)
}

// LoadPlugins reads a YAML list of plugins and registers each of them.
func (d *Dictionary) LoadPlugins(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plugin file: %w", err)
	}
	var doc struct {
		Plugins []Plugin `yaml:"plugins"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("parse plugin file: %w", err)
	}
	for _, p := range doc.Plugins {
		if err := d.RegisterPlugin(p); err != nil {
			return err
		}
	}
	return nil
}

// ParseLog converts an EVM log into a symbol. The boolean is false when the
// log carries no topics, the topic is unknown or the log index does not fit a
// block position.
func (d *Dictionary) ParseLog(log *types.Log) (Symbol, bool) {
	if log == nil || len(log.Topics) == 0 || uint64(log.Index) > math.MaxUint32 {
		return Symbol{}, false
	}
	d.mu.RLock()
	e, ok := d.entries[log.Topics[0]]
	d.mu.RUnlock()
	if !ok {
		return Symbol{}, false
	}

	code := e.code
	opts := []Option{WithPosition(uint32(log.Index))}
	var from common.Address

	switch e.parser {
	case ParserTransfer:
		if len(log.Topics) >= 3 {
			from = common.BytesToAddress(log.Topics[1].Bytes())
			to := common.BytesToAddress(log.Topics[2].Bytes())
			opts = append(opts, WithCausality(from, 0, 0), WithCounterparty(to))
			switch {
			case len(log.Topics) == 4:
				// ERC-721 transfer: the fourth topic is the token id.
				if from == (common.Address{}) && code == "Tf" {
					code = "MintNFT"
				}
			case len(log.Data) >= 32:
				opts = append(opts, WithValue(new(uint256.Int).SetBytes(log.Data[:32])))
			}
		}
	case ParserSwap:
		if len(log.Topics) >= 2 {
			from = common.BytesToAddress(log.Topics[1].Bytes())
			opts = append(opts, WithCausality(from, 0, 0))
		}
	}

	if d.deployers != nil && from != (common.Address{}) {
		opts = append(opts, WithFromDeployer(d.deployers.IsDeployer(log.Address, from)))
	}

	sym, err := New(code, opts...)
	if err != nil {
		return Symbol{}, false
	}
	return sym, true
}

// ParseLogs converts every recognised log, skipping unknown topics.
func (d *Dictionary) ParseLogs(logs []*types.Log) []Symbol {
	out := make([]Symbol, 0, len(logs))
	for _, log := range logs {
		if sym, ok := d.ParseLog(log); ok {
			out = append(out, sym)
		}
	}
	return out
}

func isHash(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
