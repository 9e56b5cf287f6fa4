package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgroSubsidy-Chain/internal/errors"
)

// 领域错误码，覆盖补贴流水线的全部失败类别。
const (
	CodeUpstreamUnavailable xerrors.Code = "UPSTREAM_UNAVAILABLE"
	CodePartyInactive       xerrors.Code = "PARTY_INACTIVE"
	CodeIneligible          xerrors.Code = "INELIGIBLE"
	CodeDuplicatePayment    xerrors.Code = "DUPLICATE_PAYMENT"
	CodeWriteFailure        xerrors.Code = "WRITE_FAILURE"
)

func init() {
	xerrors.Register(CodeUpstreamUnavailable, xerrors.Attributes{
		Message:   "账本或外部服务暂不可用",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodePartyInactive, xerrors.Attributes{
		Message:   "受助方档案未激活",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIneligible, xerrors.Attributes{
		Message:   "受助方不符合补贴条件",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDuplicatePayment, xerrors.Attributes{
		Message:   "该决定凭证对应的拨付已执行",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeWriteFailure, xerrors.Attributes{
		Message:   "账本写入失败",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// CropClass 表示档案登记的作物类别，取值与注册合约的枚举一致。
type CropClass uint8

const (
	CropRice CropClass = iota
	CropWheat
	CropCorn
	CropSugarcane
	CropCotton
	CropSoybean
	CropOther
)

var cropClassNames = [...]string{
	CropRice:      "RICE",
	CropWheat:     "WHEAT",
	CropCorn:      "CORN",
	CropSugarcane: "SUGARCANE",
	CropCotton:    "COTTON",
	CropSoybean:   "SOYBEAN",
	CropOther:     "OTHER",
}

// String 返回作物类别的规范名称，越界值归入 OTHER。
func (c CropClass) String() string {
	if int(c) < len(cropClassNames) {
		return cropClassNames[c]
	}
	return cropClassNames[CropOther]
}

// DisasterEvent 是天气预言机记录的一次灾害事件。
// Temperature 为百分之一摄氏度，Rainfall 为毫米。
type DisasterEvent struct {
	ID            string
	Region        string
	Temperature   int64
	Rainfall      uint64
	DroughtAlert  bool
	FloodAlert    bool
	ObservedAt    int64
	SourceHeight  uint64
	EmissionIndex uint
}

// PartyProfile 是注册合约中一条受助方档案。
type PartyProfile struct {
	Address           common.Address
	ProofOfRecordHash string
	Region            string
	Subregion         string
	CropClass         CropClass
	Active            bool
}

// EligibilityDecision 是规则合约针对某受助方与某事件给出的裁定。
// ProofHash 是后续拨付的幂等凭证。
type EligibilityDecision struct {
	Party     common.Address
	Eligible  bool
	Amount    *big.Int
	ProofHash common.Hash
	Reason    string
	EventID   string
	DecidedAt int64
}

// TxHandle 代表一笔已提交的账本写入。
// Wait 阻塞到交易被打包，若执行回滚则返回 WRITE_FAILURE。
type TxHandle interface {
	Hash() common.Hash
	Wait(ctx context.Context) error
}

// Gateway 是补贴流水线对账本的唯一访问面。
// 读操作失败统一归类为 UPSTREAM_UNAVAILABLE，写操作失败归类为 WRITE_FAILURE。
type Gateway interface {
	// ChainName 返回网络的可读名称。
	ChainName() string

	// CanWrite 报告网关是否持有签名密钥。
	CanWrite() bool

	// HeadHeight 返回账本当前高度。
	HeadHeight(ctx context.Context) (uint64, error)

	// EventsInRange 返回 [from, to] 高度区间内的灾害事件，
	// 按 (高度, 日志序号) 升序排列。
	EventsInRange(ctx context.Context, from, to uint64) ([]DisasterEvent, error)

	// LatestEvent 返回预言机记录的最近一次灾害事件，从未记录时返回 nil。
	LatestEvent(ctx context.Context) (*DisasterEvent, error)

	// PartiesInRegion 返回在指定区域登记的受助方地址。
	PartiesInRegion(ctx context.Context, region string) ([]common.Address, error)

	// Profile 返回单个受助方的档案。
	Profile(ctx context.Context, party common.Address) (PartyProfile, error)

	// PreviewEligibility 以只读方式预演规则裁定，不改变账本状态。
	PreviewEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (EligibilityDecision, error)

	// SubmitEligibility 将裁定写入账本。
	SubmitEligibility(ctx context.Context, party common.Address, eventID, schemeID string) (TxHandle, error)

	// LatestDecision 返回账本上该受助方最近一次已落账的裁定。
	LatestDecision(ctx context.Context, party common.Address) (EligibilityDecision, error)

	// IsPaymentExecuted 报告某凭证对应的拨付是否已执行。
	IsPaymentExecuted(ctx context.Context, proofHash common.Hash) (bool, error)

	// SubmitPayment 针对某凭证执行拨付。
	SubmitPayment(ctx context.Context, party common.Address, proofHash common.Hash, amount *big.Int) (TxHandle, error)

	// Close 释放底层连接。
	Close()
}

// weiPerToken 是账本原生单位与展示单位的换算基数。
var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FormatAmount 将以 wei 计的金额渲染为十进制代币数，用于日志与摘要。
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	rat := new(big.Rat).SetFrac(amount, weiPerToken)
	text := rat.FloatString(6)
	// 去掉无意义的尾随零，保持 "1.5" 而不是 "1.500000"。
	for len(text) > 0 && text[len(text)-1] == '0' {
		text = text[:len(text)-1]
	}
	if len(text) > 0 && text[len(text)-1] == '.' {
		text = text[:len(text)-1]
	}
	return text
}
