package symbol

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	xerrors "Behavior-Chain/internal/errors"
)

// Uniswap V2 router and its deployer, seeded into every registry.
var (
	UniswapV2Router         = common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	UniswapV2RouterDeployer = common.HexToAddress("0x8c8d7c46219d9205f05612f8cc93e7c7a6fc2ea5")
)

const uniswapV2RouterBlock = 9997110

// Deployment records who deployed a contract and at which block.
type Deployment struct {
	Deployer common.Address
	Block    uint64
}

// DeployerRegistry maps contract addresses to their deployment record.
type DeployerRegistry struct {
	mu        sync.RWMutex
	contracts map[common.Address]Deployment
}

// NewDeployerRegistry returns a registry seeded with well-known contracts.
func NewDeployerRegistry() *DeployerRegistry {
	r := &DeployerRegistry{contracts: make(map[common.Address]Deployment)}
	r.contracts[UniswapV2Router] = Deployment{Deployer: UniswapV2RouterDeployer, Block: uniswapV2RouterBlock}
	return r
}

// Add records or replaces a deployment.
func (r *DeployerRegistry) Add(contract common.Address, d Deployment) {
	r.mu.Lock()
	r.contracts[contract] = d
	r.mu.Unlock()
}

// DeployerOf returns the deployment record for contract.
func (r *DeployerRegistry) DeployerOf(contract common.Address) (Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.contracts[contract]
	return d, ok
}

// IsDeployer reports whether sender deployed contract.
func (r *DeployerRegistry) IsDeployer(contract, sender common.Address) bool {
	d, ok := r.DeployerOf(contract)
	return ok && d.Deployer == sender
}

// Len returns the number of known contracts.
func (r *DeployerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contracts)
}

type deploymentYAML struct {
	Contract string `yaml:"contract"`
	Deployer string `yaml:"deployer"`
	Block    uint64 `yaml:"block"`
}

type registryYAML struct {
	Deployments []deploymentYAML `yaml:"deployments"`
}

// LoadDeployerRegistry reads a YAML registry file on top of the seeded
// entries.
func LoadDeployerRegistry(path string) (*DeployerRegistry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployer registry: %w", err)
	}
	var doc registryYAML
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse deployer registry: %w", err)
	}
	r := NewDeployerRegistry()
	for i, d := range doc.Deployments {
		if !common.IsHexAddress(d.Contract) || !common.IsHexAddress(d.Deployer) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("deployment %d: contract and deployer must be hex addresses", i))
		}
		r.Add(common.HexToAddress(d.Contract), Deployment{
			Deployer: common.HexToAddress(d.Deployer),
			Block:    d.Block,
		})
	}
	return r, nil
}

// Save writes the registry as YAML, sorted by contract address.
func (r *DeployerRegistry) Save(path string) error {
	r.mu.RLock()
	doc := registryYAML{Deployments: make([]deploymentYAML, 0, len(r.contracts))}
	for contract, d := range r.contracts {
		doc.Deployments = append(doc.Deployments, deploymentYAML{
			Contract: strings.ToLower(contract.Hex()),
			Deployer: strings.ToLower(d.Deployer.Hex()),
			Block:    d.Block,
		})
	}
	r.mu.RUnlock()

	sort.Slice(doc.Deployments, func(i, j int) bool {
		return doc.Deployments[i].Contract < doc.Deployments[j].Contract
	})
	content, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode deployer registry: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write deployer registry: %w", err)
	}
	return nil
}
