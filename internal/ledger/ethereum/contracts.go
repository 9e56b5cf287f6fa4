package ethereum

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// 四个合约的 ABI 与链上部署保持一致，仅声明本服务用到的入口。

const partyRegistryABI = `[
  {
    "type": "function",
    "name": "getFarmersByDistrict",
    "stateMutability": "view",
    "inputs": [{"name": "district", "type": "string"}],
    "outputs": [{"name": "", "type": "address[]"}]
  },
  {
    "type": "function",
    "name": "getFarmerProfile",
    "stateMutability": "view",
    "inputs": [{"name": "farmer", "type": "address"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "wallet", "type": "address"},
          {"name": "landProofHash", "type": "string"},
          {"name": "district", "type": "string"},
          {"name": "village", "type": "string"},
          {"name": "latitude", "type": "uint256"},
          {"name": "longitude", "type": "uint256"},
          {"name": "cropType", "type": "uint8"},
          {"name": "registrationTimestamp", "type": "uint256"},
          {"name": "isActive", "type": "bool"}
        ]
      }
    ]
  }
]`

const disasterOracleABI = `[
  {
    "type": "function",
    "name": "getAllEventIds",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "string[]"}]
  },
  {
    "type": "function",
    "name": "getWeatherEvent",
    "stateMutability": "view",
    "inputs": [{"name": "eventId", "type": "string"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "region", "type": "string"},
          {"name": "timestamp", "type": "uint256"},
          {"name": "temperature", "type": "int256"},
          {"name": "rainfall", "type": "uint256"},
          {"name": "droughtAlert", "type": "bool"},
          {"name": "floodAlert", "type": "bool"},
          {"name": "eventId", "type": "string"},
          {"name": "oracleAddress", "type": "address"}
        ]
      }
    ]
  },
  {
    "type": "event",
    "name": "WeatherDataRecorded",
    "anonymous": false,
    "inputs": [
      {"name": "eventId", "type": "string", "indexed": true},
      {"name": "region", "type": "string", "indexed": false},
      {"name": "temperature", "type": "int256", "indexed": false},
      {"name": "rainfall", "type": "uint256", "indexed": false},
      {"name": "droughtAlert", "type": "bool", "indexed": false},
      {"name": "floodAlert", "type": "bool", "indexed": false},
      {"name": "timestamp", "type": "uint256", "indexed": false}
    ]
  }
]`

const rulesEngineABI = `[
  {
    "type": "function",
    "name": "checkEligibility",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "farmer", "type": "address"},
      {"name": "weatherEventId", "type": "string"},
      {"name": "schemeId", "type": "string"}
    ],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "farmer", "type": "address"},
          {"name": "isEligible", "type": "bool"},
          {"name": "subsidyAmount", "type": "uint256"},
          {"name": "proofHash", "type": "bytes32"},
          {"name": "reason", "type": "string"},
          {"name": "weatherEventId", "type": "string"},
          {"name": "timestamp", "type": "uint256"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "getLatestDecision",
    "stateMutability": "view",
    "inputs": [{"name": "farmer", "type": "address"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "farmer", "type": "address"},
          {"name": "isEligible", "type": "bool"},
          {"name": "subsidyAmount", "type": "uint256"},
          {"name": "proofHash", "type": "bytes32"},
          {"name": "reason", "type": "string"},
          {"name": "weatherEventId", "type": "string"},
          {"name": "timestamp", "type": "uint256"}
        ]
      }
    ]
  }
]`

const fundCustodianABI = `[
  {
    "type": "function",
    "name": "isPaymentExecuted",
    "stateMutability": "view",
    "inputs": [{"name": "proofHash", "type": "bytes32"}],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "executePayment",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "farmer", "type": "address"},
      {"name": "proofHash", "type": "bytes32"},
      {"name": "amount", "type": "uint256"}
    ],
    "outputs": []
  }
]`

// profileResult 映射注册合约返回的档案 tuple。
type profileResult struct {
	Wallet                common.Address
	LandProofHash         string
	District              string
	Village               string
	Latitude              *big.Int
	Longitude             *big.Int
	CropType              uint8
	RegistrationTimestamp *big.Int
	IsActive              bool
}

// weatherEventResult 映射预言机返回的灾害事件 tuple。
type weatherEventResult struct {
	Region        string
	Timestamp     *big.Int
	Temperature   *big.Int
	Rainfall      *big.Int
	DroughtAlert  bool
	FloodAlert    bool
	EventId       string
	OracleAddress common.Address
}

// weatherRecordedEvent 映射 WeatherDataRecorded 日志。eventId 是 indexed
// string，主题里只保留 keccak 哈希，原文要回查预言机合约。
type weatherRecordedEvent struct {
	EventId      common.Hash
	Region       string
	Temperature  *big.Int
	Rainfall     *big.Int
	DroughtAlert bool
	FloodAlert   bool
	Timestamp    *big.Int
}

// decisionResult 映射规则合约返回的裁定 tuple。
type decisionResult struct {
	Farmer         common.Address
	IsEligible     bool
	SubsidyAmount  *big.Int
	ProofHash      [32]byte
	Reason         string
	WeatherEventId string
	Timestamp      *big.Int
}
