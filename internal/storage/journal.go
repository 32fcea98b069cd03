package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/betbot/p2pbuy/internal/domain"
	"github.com/betbot/p2pbuy/internal/errclass"
	"github.com/betbot/p2pbuy/internal/trade"
)

// Journal 本地交易日志（sqlite），记录本机创建过的交易，重启后据此恢复轮询
// 只是索引，结算真相始终以服务端为准
type Journal struct {
	db *sql.DB
}

// OpenJournal 打开（必要时创建）日志库；path 为 ":memory:" 时使用内存库
func OpenJournal(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trade_journal (
  trade_id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  buyer TEXT NOT NULL,
  token_amount TEXT NOT NULL,
  fiat_amount INTEGER NOT NULL,
  server_status INTEGER NOT NULL,
  flow TEXT NOT NULL,
  created_at TEXT NOT NULL,
  expires_at TEXT NOT NULL,
  escrow_tx_hash TEXT,
  settlement_tx_hash TEXT,
  receipt_uploaded_at TEXT,
  proof_generated_at TEXT,
  settlement_error TEXT,
  synthesized INTEGER NOT NULL DEFAULT 0,
  submitted_at TEXT,
  order_json TEXT,
  failure_json TEXT,
  updated_ns INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_journal_created ON trade_journal(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Save 写入一条交易快照；较旧的快照（updated_ns 更小）不会覆盖较新的
func (j *Journal) Save(ctx context.Context, e trade.Entry) error {
	t := e.Trade
	if t == nil {
		return errors.New("journal: entry has no trade")
	}
	var orderJSON, failureJSON sql.NullString
	if e.Order != nil {
		b, err := json.Marshal(e.Order)
		if err != nil {
			return fmt.Errorf("encode order: %w", err)
		}
		orderJSON = sql.NullString{String: string(b), Valid: true}
	}
	if e.Failure != nil {
		b, err := json.Marshal(e.Failure)
		if err != nil {
			return fmt.Errorf("encode failure: %w", err)
		}
		failureJSON = sql.NullString{String: string(b), Valid: true}
	}
	amount := "0"
	if t.TokenAmount != nil {
		amount = t.TokenAmount.String()
	}
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO trade_journal (trade_id,order_id,buyer,token_amount,fiat_amount,server_status,flow,created_at,expires_at,
  escrow_tx_hash,settlement_tx_hash,receipt_uploaded_at,proof_generated_at,settlement_error,synthesized,submitted_at,
  order_json,failure_json,updated_ns)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(trade_id) DO UPDATE SET
  order_id=excluded.order_id,
  buyer=excluded.buyer,
  token_amount=excluded.token_amount,
  fiat_amount=excluded.fiat_amount,
  server_status=excluded.server_status,
  flow=excluded.flow,
  created_at=excluded.created_at,
  expires_at=excluded.expires_at,
  escrow_tx_hash=excluded.escrow_tx_hash,
  settlement_tx_hash=excluded.settlement_tx_hash,
  receipt_uploaded_at=excluded.receipt_uploaded_at,
  proof_generated_at=excluded.proof_generated_at,
  settlement_error=excluded.settlement_error,
  synthesized=excluded.synthesized,
  submitted_at=excluded.submitted_at,
  order_json=COALESCE(excluded.order_json, trade_journal.order_json),
  failure_json=excluded.failure_json,
  updated_ns=excluded.updated_ns
WHERE excluded.updated_ns >= trade_journal.updated_ns
`, t.ID, t.OrderID, t.Buyer, amount, t.FiatAmount, int(t.Status), string(e.Flow),
		formatTime(t.CreatedAt), formatTime(t.ExpiresAt),
		nullString(t.EscrowTxHash), nullString(t.SettlementTxHash),
		nullTime(t.ReceiptUploadedAt), nullTime(t.ProofGeneratedAt), nullString(t.SettlementError),
		boolInt(t.Synthesized), nullTime(e.SubmittedAt),
		orderJSON, failureJSON, updated.UnixNano())
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

const selectColumns = `
SELECT trade_id,order_id,buyer,token_amount,fiat_amount,server_status,flow,created_at,expires_at,
  escrow_tx_hash,settlement_tx_hash,receipt_uploaded_at,proof_generated_at,settlement_error,synthesized,submitted_at,
  order_json,failure_json,updated_ns
FROM trade_journal`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (trade.Entry, error) {
	var (
		t                                  domain.Trade
		amount, flow, createdAt, expiresAt string
		status, synthesized                int
		escrowTx, settleTx, settleErr      sql.NullString
		receiptAt, proofAt, submittedAt    sql.NullString
		orderJSON, failureJSON             sql.NullString
		updatedNs                          int64
	)
	if err := row.Scan(&t.ID, &t.OrderID, &t.Buyer, &amount, &t.FiatAmount, &status, &flow, &createdAt, &expiresAt,
		&escrowTx, &settleTx, &receiptAt, &proofAt, &settleErr, &synthesized, &submittedAt,
		&orderJSON, &failureJSON, &updatedNs); err != nil {
		return trade.Entry{}, err
	}
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return trade.Entry{}, fmt.Errorf("trade %s: bad token amount %q", t.ID, amount)
	}
	t.TokenAmount = amt
	t.Status = domain.TradeStatus(status)
	t.CreatedAt = parseTime(createdAt)
	t.ExpiresAt = parseTime(expiresAt)
	t.EscrowTxHash = stringPtr(escrowTx)
	t.SettlementTxHash = stringPtr(settleTx)
	t.SettlementError = stringPtr(settleErr)
	t.ReceiptUploadedAt = timePtr(receiptAt)
	t.ProofGeneratedAt = timePtr(proofAt)
	t.Synthesized = synthesized != 0

	e := trade.Entry{
		Trade:       &t,
		Flow:        domain.FlowStatus(flow),
		SubmittedAt: timePtr(submittedAt),
		UpdatedAt:   time.Unix(0, updatedNs),
	}
	if orderJSON.Valid {
		var o domain.Order
		if err := json.Unmarshal([]byte(orderJSON.String), &o); err != nil {
			return trade.Entry{}, fmt.Errorf("trade %s: decode order: %w", t.ID, err)
		}
		e.Order = &o
	}
	if failureJSON.Valid {
		var f errclass.Failure
		if err := json.Unmarshal([]byte(failureJSON.String), &f); err != nil {
			return trade.Entry{}, fmt.Errorf("trade %s: decode failure: %w", t.ID, err)
		}
		e.Failure = &f
	}
	return e, nil
}

// Get 读取一笔交易；不存在时返回 ok=false
func (j *Journal) Get(ctx context.Context, tradeID string) (trade.Entry, bool, error) {
	e, err := scanEntry(j.db.QueryRowContext(ctx, selectColumns+` WHERE trade_id=?`, tradeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return trade.Entry{}, false, nil
		}
		return trade.Entry{}, false, err
	}
	return e, true, nil
}

// Load 读取全部交易，新的在前
func (j *Journal) Load(ctx context.Context) ([]trade.Entry, error) {
	rows, err := j.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trade.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete 删除一笔交易
func (j *Journal) Delete(ctx context.Context, tradeID string) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM trade_journal WHERE trade_id=?`, tradeID)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
