package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"AgroSubsidy-Chain/internal/config"
	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/internal/ledger/ethereum"
)

// Registry manages a set of ledger gateways keyed by human readable names.
type Registry struct {
	defaultChain string
	gateways     map[string]ledger.Gateway
	contracts    map[string]ledger.ContractAddresses
}

// NewRegistry loads chain definitions and instantiates concrete gateways.
func NewRegistry(ctx context.Context, cfg config.LedgerConfig) (*Registry, error) {
	defs, err := ledger.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	privateKey := ""
	if env := strings.TrimSpace(cfg.PrivateKeyEnv); env != "" {
		privateKey = strings.TrimSpace(os.Getenv(env))
	}

	gateways := make(map[string]ledger.Gateway)
	contracts := make(map[string]ledger.ContractAddresses)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			gateway, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:          name,
				RPCURL:        chain.RPCURL,
				ChainID:       chain.ChainID,
				PrivateKeyHex: privateKey,
				Contracts:     chain.Contracts,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			gateways[name] = gateway
			contracts[name] = chain.Contracts
		default:
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(gateways) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		addrs := ledger.ContractAddresses{
			PartyRegistry:  cfg.Contracts.PartyRegistry,
			DisasterOracle: cfg.Contracts.DisasterOracle,
			RulesEngine:    cfg.Contracts.RulesEngine,
			FundCustodian:  cfg.Contracts.FundCustodian,
		}
		gateway, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:          "default",
			RPCURL:        cfg.RPCURL,
			ChainID:       cfg.ChainID,
			PrivateKeyHex: privateKey,
			Contracts:     addrs,
		})
		if err != nil {
			return nil, err
		}
		gateways["default"] = gateway
		contracts["default"] = addrs
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(gateways) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(gateways))
		for name := range gateways {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := gateways[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, gateways: gateways, contracts: contracts}, nil
}

// DefaultContracts returns the contract addresses deployed on the default chain.
func (r *Registry) DefaultContracts() ledger.ContractAddresses {
	if r == nil {
		return ledger.ContractAddresses{}
	}
	return r.contracts[r.defaultChain]
}

// DefaultGateway returns the gateway configured as default chain.
func (r *Registry) DefaultGateway() (ledger.Gateway, error) {
	if r == nil {
		return nil, errors.New("未初始化的账本网关注册表")
	}
	gateway, ok := r.gateways[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return gateway, nil
}

// Gateway returns the gateway identified by name.
func (r *Registry) Gateway(name string) (ledger.Gateway, bool) {
	if r == nil {
		return nil, false
	}
	gateway, ok := r.gateways[name]
	return gateway, ok
}

// Close releases all gateways managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, gateway := range r.gateways {
		if gateway != nil {
			gateway.Close()
		}
		delete(r.gateways, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
