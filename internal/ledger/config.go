package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions 对应 configs/chain.yaml 的结构。
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述单条链的接入端点与合约部署地址。
type ChainDefinition struct {
	Type        string            `yaml:"type"`
	RPCURL      string            `yaml:"rpc_url"`
	ChainID     int64             `yaml:"chain_id"`
	Description string            `yaml:"description"`
	Contracts   ContractAddresses `yaml:"contracts"`
}

// ContractAddresses 是补贴体系依赖的四个合约的部署地址。
// JSON 标签供 /status 快照序列化使用。
type ContractAddresses struct {
	PartyRegistry  string `yaml:"party_registry" json:"party_registry"`
	DisasterOracle string `yaml:"disaster_oracle" json:"disaster_oracle"`
	RulesEngine    string `yaml:"rules_engine" json:"rules_engine"`
	FundCustodian  string `yaml:"fund_custodian" json:"fund_custodian"`
}

// Complete 报告四个合约地址是否全部配置。
func (c ContractAddresses) Complete() bool {
	return strings.TrimSpace(c.PartyRegistry) != "" &&
		strings.TrimSpace(c.DisasterOracle) != "" &&
		strings.TrimSpace(c.RulesEngine) != "" &&
		strings.TrimSpace(c.FundCustodian) != ""
}

// LoadChainDefinitions 解析链配置文件。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
