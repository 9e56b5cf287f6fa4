package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DisbursementRecord 表示一笔已执行（或模拟执行）拨付的审计落库结构。
type DisbursementRecord struct {
	EventID   string
	Region    string
	Party     string
	ProofHash string
	Amount    string
	TxHash    string
	Virtual   bool
	CreatedAt int64
}

// DisbursementRepository 抽象拨付审计数据的持久化接口。
type DisbursementRepository interface {
	Save(ctx context.Context, record DisbursementRecord) error
	ListLatest(ctx context.Context, limit int) ([]DisbursementRecord, error)
}

// MemoryDisbursementRepository 使用本地 JSON 行文件模拟 MySQL 的效果，方便迭代开发。
type MemoryDisbursementRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []DisbursementRecord
}

// NewMemoryDisbursementRepository 创建一个内存拨付仓库。
func NewMemoryDisbursementRepository(dataDir string) (*MemoryDisbursementRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "disbursements.log")
	repo := &MemoryDisbursementRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录拨付结果。
func (m *MemoryDisbursementRepository) Save(_ context.Context, record DisbursementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开拨付日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化拨付记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入拨付日志失败: %w", err)
	}

	m.records = append([]DisbursementRecord{record}, m.records...)
	if len(m.records) > 512 {
		m.records = m.records[:512]
	}
	return nil
}

// ListLatest 返回最近的拨付记录，按时间倒序排列。
func (m *MemoryDisbursementRepository) ListLatest(_ context.Context, limit int) ([]DisbursementRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}

	results := make([]DisbursementRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryDisbursementRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取拨付日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []DisbursementRecord
	for scanner.Scan() {
		var record DisbursementRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]DisbursementRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析拨付日志失败: %w", err)
	}

	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLDisbursementRepository 使用真实的 MySQL 数据库存储拨付审计信息。
type SQLDisbursementRepository struct {
	db *sql.DB
}

// NewSQLDisbursementRepository 创建连接池并执行嵌入的 SQL 迁移。
func NewSQLDisbursementRepository(ctx context.Context, cfg Config) (*SQLDisbursementRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLDisbursementRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Save 将拨付记录写入 MySQL。
func (s *SQLDisbursementRepository) Save(ctx context.Context, record DisbursementRecord) error {
	const stmt = `INSERT INTO disbursements
        (event_id, region, party, proof_hash, amount, tx_hash, virtual_payout, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.EventID,
		record.Region,
		record.Party,
		record.ProofHash,
		record.Amount,
		record.TxHash,
		record.Virtual,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条拨付记录。
func (s *SQLDisbursementRepository) ListLatest(ctx context.Context, limit int) ([]DisbursementRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT event_id, region, party, proof_hash, amount, tx_hash, virtual_payout, created_at
        FROM disbursements ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询拨付记录失败: %w", err)
	}
	defer rows.Close()

	var records []DisbursementRecord
	for rows.Next() {
		var record DisbursementRecord
		if err := rows.Scan(&record.EventID, &record.Region, &record.Party, &record.ProofHash, &record.Amount, &record.TxHash, &record.Virtual, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析拨付记录失败: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历拨付记录失败: %w", err)
	}

	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLDisbursementRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ DisbursementRepository = (*MemoryDisbursementRepository)(nil)
	_ DisbursementRepository = (*SQLDisbursementRepository)(nil)
)
