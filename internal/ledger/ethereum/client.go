package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"

	"AgroSubsidy-Chain/internal/ledger"
	"AgroSubsidy-Chain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "AgroSubsidy-Chain/internal/errors"
)

// Config describes how to construct an EVM backed ledger gateway.
type Config struct {
	Name          string
	RPCURL        string
	ChainID       int64
	PrivateKeyHex string
	Contracts     ledger.ContractAddresses
}

// chainBackend 聚合网关依赖的链访问能力，便于在测试中替换为模拟后端。
type chainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client 基于 go-ethereum 实现 ledger.Gateway。
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	backend   chainBackend
	signer    *bind.TransactOpts

	registry  *bind.BoundContract
	oracle    *bind.BoundContract
	rules     *bind.BoundContract
	custodian *bind.BoundContract

	oracleAddr    common.Address
	recordedTopic common.Hash

	mu     sync.Mutex
	closed bool
}

var _ ledger.Gateway = (*Client)(nil)

// NewClient 连接 RPC 端点并绑定四个合约。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置账本 RPC 地址")
	}
	if !cfg.Contracts.Complete() {
		return nil, errors.New("合约地址配置不完整")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接账本节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	var signer *bind.TransactOpts
	if keyHex := strings.TrimSpace(cfg.PrivateKeyHex); keyHex != "" {
		chainID := big.NewInt(cfg.ChainID)
		if cfg.ChainID == 0 {
			chainID, err = eth.ChainID(ctx)
			if err != nil {
				rpcClient.Close()
				return nil, fmt.Errorf("查询链 ID 失败: %w", err)
			}
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("解析代理私钥失败: %w", err)
		}
		signer, err = bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("构造交易签名器失败: %w", err)
		}
	}

	client, err := assemble(cfg.Name, eth, signer, cfg.Contracts)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	return client, nil
}

// NewSimulatedClient 在模拟后端上构造网关，仅用于测试。
func NewSimulatedClient(name string, backend chainBackend, signer *bind.TransactOpts, contracts ledger.ContractAddresses) (*Client, error) {
	return assemble(name, backend, signer, contracts)
}

func assemble(name string, backend chainBackend, signer *bind.TransactOpts, contracts ledger.ContractAddresses) (*Client, error) {
	registryABI, err := abi.JSON(strings.NewReader(partyRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("解析注册合约 ABI 失败: %w", err)
	}
	oracleABI, err := abi.JSON(strings.NewReader(disasterOracleABI))
	if err != nil {
		return nil, fmt.Errorf("解析预言机 ABI 失败: %w", err)
	}
	rulesABI, err := abi.JSON(strings.NewReader(rulesEngineABI))
	if err != nil {
		return nil, fmt.Errorf("解析规则合约 ABI 失败: %w", err)
	}
	custodianABI, err := abi.JSON(strings.NewReader(fundCustodianABI))
	if err != nil {
		return nil, fmt.Errorf("解析资金合约 ABI 失败: %w", err)
	}

	oracleAddr := common.HexToAddress(contracts.DisasterOracle)
	return &Client{
		name:          name,
		backend:       backend,
		signer:        signer,
		registry:      bind.NewBoundContract(common.HexToAddress(contracts.PartyRegistry), registryABI, backend, backend, backend),
		oracle:        bind.NewBoundContract(oracleAddr, oracleABI, backend, backend, backend),
		rules:         bind.NewBoundContract(common.HexToAddress(contracts.RulesEngine), rulesABI, backend, backend, backend),
		custodian:     bind.NewBoundContract(common.HexToAddress(contracts.FundCustodian), custodianABI, backend, backend, backend),
		oracleAddr:    oracleAddr,
		recordedTopic: oracleABI.Events["WeatherDataRecorded"].ID,
	}, nil
}

// ChainName 返回网络名称。
func (c *Client) ChainName() string {
	return c.name
}

// CanWrite 报告是否配置了签名密钥。
func (c *Client) CanWrite() bool {
	return c != nil && c.signer != nil
}

// Close 释放底层连接。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// HeadHeight 返回账本当前高度。
func (c *Client) HeadHeight(ctx context.Context) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "查询账本高度失败")
	}
	return header.Number.Uint64(), nil
}

// EventsInRange 过滤预言机在指定高度区间内记录的灾害事件。
// eventId 在日志主题里只有 keccak 哈希，通过 getAllEventIds 回查原文；
// 回查失败时整批报错，游标不前移，事件不会被悄悄丢掉。
func (c *Client) EventsInRange(ctx context.Context, from, to uint64) ([]ledger.DisasterEvent, error) {
	query := gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.oracleAddr},
		Topics:    [][]common.Hash{{c.recordedTopic}},
	}
	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "过滤灾害事件日志失败")
	}

	var idIndex map[common.Hash]string
	events := make([]ledger.DisasterEvent, 0, len(logs))
	for _, entry := range logs {
		if entry.Removed {
			continue
		}
		var record weatherRecordedEvent
		if err := c.oracle.UnpackLog(&record, "WeatherDataRecorded", entry); err != nil {
			logger.L().Warn("预言机日志解码失败，跳过该条",
				slog.Uint64("block", entry.BlockNumber),
				slog.Uint64("log_index", uint64(entry.Index)),
				slog.String("tx_hash", entry.TxHash.Hex()),
				slog.String("error", err.Error()))
			continue
		}
		if idIndex == nil {
			idIndex, err = c.eventIDIndex(ctx)
			if err != nil {
				return nil, err
			}
		}
		id, ok := idIndex[record.EventId]
		if !ok {
			// 合约列表尚未包含该事件时退回主题哈希，后续流程仍可审计。
			logger.L().Warn("事件 ID 原文未在预言机列表中，使用主题哈希",
				slog.String("topic", record.EventId.Hex()),
				slog.Uint64("block", entry.BlockNumber))
			id = record.EventId.Hex()
		}
		events = append(events, ledger.DisasterEvent{
			ID:            id,
			Region:        record.Region,
			Temperature:   bigToInt64(record.Temperature),
			Rainfall:      bigToUint64(record.Rainfall),
			DroughtAlert:  record.DroughtAlert,
			FloodAlert:    record.FloodAlert,
			ObservedAt:    bigToInt64(record.Timestamp),
			SourceHeight:  entry.BlockNumber,
			EmissionIndex: entry.Index,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].SourceHeight != events[j].SourceHeight {
			return events[i].SourceHeight < events[j].SourceHeight
		}
		return events[i].EmissionIndex < events[j].EmissionIndex
	})
	return events, nil
}

// eventIDIndex 拉取预言机的全部事件 ID，建立主题哈希到原文的映射。
func (c *Client) eventIDIndex(ctx context.Context) (map[common.Hash]string, error) {
	var out []any
	if err := c.oracle.Call(&bind.CallOpts{Context: ctx}, &out, "getAllEventIds"); err != nil {
		return nil, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "查询事件列表失败")
	}
	ids := *abi.ConvertType(out[0], new([]string)).(*[]string)
	index := make(map[common.Hash]string, len(ids))
	for _, id := range ids {
		index[crypto.Keccak256Hash([]byte(id))] = id
	}
	return index, nil
}

// LatestEvent 返回预言机记录的最近一次灾害事件。
func (c *Client) LatestEvent(ctx context.Context) (*ledger.DisasterEvent, error) {
	var out []any
	if err := c.oracle.Call(&bind.CallOpts{Context: ctx}, &out, "getAllEventIds"); err != nil {
		return nil, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "查询事件列表失败")
	}
	ids := *abi.ConvertType(out[0], new([]string)).(*[]string)
	if len(ids) == 0 {
		return nil, nil
	}

	lastID := ids[len(ids)-1]
	out = out[:0]
	if err := c.oracle.Call(&bind.CallOpts{Context: ctx}, &out, "getWeatherEvent", lastID); err != nil {
		return nil, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "查询事件详情失败",
			xerrors.WithMetadata("event_id", lastID))
	}
	record := abi.ConvertType(out[0], new(weatherEventResult)).(*weatherEventResult)
	return &ledger.DisasterEvent{
		ID:           record.EventId,
		Region:       record.Region,
		Temperature:  bigToInt64(record.Temperature),
		Rainfall:     bigToUint64(record.Rainfall),
		DroughtAlert: record.DroughtAlert,
		FloodAlert:   record.FloodAlert,
		ObservedAt:   bigToInt64(record.Timestamp),
	}, nil
}

// PartiesInRegion 返回指定区域登记的受助方地址。
func (c *Client) PartiesInRegion(ctx context.Context, region string) ([]common.Address, error) {
	var out []any
	if err := c.registry.Call(&bind.CallOpts{Context: ctx}, &out, "getFarmersByDistrict", region); err != nil {
		return nil, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "查询区域受助方失败",
			xerrors.WithMetadata("region", region))
	}
	parties := *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address)
	return parties, nil
}

// Profile 返回单个受助方的档案。
func (c *Client) Profile(ctx context.Context, party common.Address) (ledger.PartyProfile, error) {
	var out []any
	if err := c.registry.Call(&bind.CallOpts{Context: ctx}, &out, "getFarmerProfile", party); err != nil {
		return ledger.PartyProfile{}, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "查询受助方档案失败",
			xerrors.WithMetadata("party", party.Hex()))
	}
	record := abi.ConvertType(out[0], new(profileResult)).(*profileResult)
	return ledger.PartyProfile{
		Address:           record.Wallet,
		ProofOfRecordHash: record.LandProofHash,
		Region:            record.District,
		Subregion:         record.Village,
		CropClass:         ledger.CropClass(record.CropType),
		Active:            record.IsActive,
	}, nil
}

// PreviewEligibility 以 eth_call 预演规则裁定，不落账。
func (c *Client) PreviewEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (ledger.EligibilityDecision, error) {
	var out []any
	if err := c.rules.Call(&bind.CallOpts{Context: ctx}, &out, "checkEligibility", party, eventID, schemeID); err != nil {
		return ledger.EligibilityDecision{}, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "预演资格裁定失败",
			xerrors.WithMetadata("party", party.Hex()),
			xerrors.WithMetadata("event_id", eventID))
	}
	return toDecision(abi.ConvertType(out[0], new(decisionResult)).(*decisionResult)), nil
}

// SubmitEligibility 将裁定写入账本。
func (c *Client) SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (ledger.TxHandle, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := c.rules.Transact(opts, "checkEligibility", party, eventID, schemeID)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeWriteFailure, err, "提交资格裁定失败",
			xerrors.WithMetadata("party", party.Hex()),
			xerrors.WithMetadata("event_id", eventID))
	}
	return &txHandle{tx: tx, backend: c.backend}, nil
}

// LatestDecision 返回该受助方最近一次已落账的裁定。
func (c *Client) LatestDecision(ctx context.Context, party common.Address) (ledger.EligibilityDecision, error) {
	var out []any
	if err := c.rules.Call(&bind.CallOpts{Context: ctx}, &out, "getLatestDecision", party); err != nil {
		return ledger.EligibilityDecision{}, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "查询最新裁定失败",
			xerrors.WithMetadata("party", party.Hex()))
	}
	return toDecision(abi.ConvertType(out[0], new(decisionResult)).(*decisionResult)), nil
}

// IsPaymentExecuted 查询凭证对应的拨付是否已执行。
func (c *Client) IsPaymentExecuted(ctx context.Context, proofHash common.Hash) (bool, error) {
	var out []any
	if err := c.custodian.Call(&bind.CallOpts{Context: ctx}, &out, "isPaymentExecuted", proofHash); err != nil {
		return false, xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "查询拨付状态失败",
			xerrors.WithMetadata("proof_hash", proofHash.Hex()))
	}
	executed := *abi.ConvertType(out[0], new(bool)).(*bool)
	return executed, nil
}

// SubmitPayment 针对凭证执行拨付。
func (c *Client) SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (ledger.TxHandle, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := c.custodian.Transact(opts, "executePayment", party, proofHash, amount)
	if err != nil {
		return nil, xerrors.Wrap(ledger.CodeWriteFailure, err, "提交拨付交易失败",
			xerrors.WithMetadata("party", party.Hex()),
			xerrors.WithMetadata("proof_hash", proofHash.Hex()))
	}
	return &txHandle{tx: tx, backend: c.backend}, nil
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.signer == nil {
		return nil, xerrors.New(ledger.CodeWriteFailure, "网关未配置签名密钥，无法写入账本")
	}
	opts := *c.signer
	opts.Context = ctx
	return &opts, nil
}

func toDecision(record *decisionResult) ledger.EligibilityDecision {
	return ledger.EligibilityDecision{
		Party:     record.Farmer,
		Eligible:  record.IsEligible,
		Amount:    record.SubsidyAmount,
		ProofHash: common.Hash(record.ProofHash),
		Reason:    record.Reason,
		EventID:   record.WeatherEventId,
		DecidedAt: bigToInt64(record.Timestamp),
	}
}

func bigToInt64(n *big.Int) int64 {
	if n == nil || !n.IsInt64() {
		return 0
	}
	return n.Int64()
}

func bigToUint64(n *big.Int) uint64 {
	if n == nil || !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}

// txHandle 包装一笔已提交的交易。
type txHandle struct {
	tx      *coretypes.Transaction
	backend bind.DeployBackend
}

// Hash 返回交易哈希。
func (h *txHandle) Hash() common.Hash {
	return h.tx.Hash()
}

// Wait 阻塞到交易被打包，回滚视为写入失败。
func (h *txHandle) Wait(ctx context.Context) error {
	receipt, err := bind.WaitMined(ctx, h.backend, h.tx)
	if err != nil {
		return xerrors.Wrap(ledger.CodeUpstreamUnavailable, err, "等待交易确认失败",
			xerrors.WithMetadata("tx_hash", h.tx.Hash().Hex()))
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return xerrors.New(ledger.CodeWriteFailure, "交易执行回滚",
			xerrors.WithMetadata("tx_hash", h.tx.Hash().Hex()))
	}
	return nil
}
