package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ResultStore 管理 backtest_runs/orders/positions/snapshots 表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("backtest: result store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			instrument TEXT NOT NULL,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			granularity TEXT NOT NULL,
			initial_balance REAL NOT NULL,
			final_balance REAL NOT NULL DEFAULT 0,
			profit REAL NOT NULL DEFAULT 0,
			return_pct REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			orders INTEGER NOT NULL DEFAULT 0,
			positions INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			stats_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			action TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			units REAL NOT NULL,
			notional REAL NOT NULL,
			commission REAL NOT NULL,
			reason TEXT NOT NULL,
			tag TEXT,
			executed_at INTEGER NOT NULL,
			stop_loss REAL,
			take_profit REAL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			instrument TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_order_id INTEGER,
			exit_order_id INTEGER,
			entry_price REAL,
			exit_price REAL,
			units REAL,
			pnl REAL,
			pnl_pct REAL,
			holding_ms INTEGER,
			exit_reason TEXT,
			opened_at INTEGER,
			closed_at INTEGER,
			stop_loss REAL,
			take_profit REAL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			balance REAL NOT NULL,
			drawdown REAL NOT NULL,
			exposure REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_run ON backtest_orders(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_run ON backtest_positions(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON backtest_snapshots(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveResult 把引擎产出整体入库。
func (s *ResultStore) SaveResult(ctx context.Context, result *Result) error {
	if result == nil {
		return fmt.Errorf("backtest: result cannot be nil")
	}
	if err := s.InsertRun(ctx, result.Run); err != nil {
		return err
	}
	for i := range result.Orders {
		if _, err := s.InsertOrder(ctx, &result.Orders[i]); err != nil {
			return err
		}
	}
	for i := range result.Positions {
		if _, err := s.InsertPosition(ctx, &result.Positions[i]); err != nil {
			return err
		}
	}
	for _, snap := range result.Snapshots {
		if _, err := s.InsertSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, instrument, strategy, status, start_ts, end_ts, granularity, initial_balance,
			final_balance, profit, return_pct, win_rate, max_drawdown, orders, positions,
			config_json, stats_json, message, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Instrument, run.Strategy, run.Status, run.StartTS, run.EndTS, run.Granularity,
		run.InitialBalance, run.FinalBalance, run.Stats.Profit, run.Stats.ReturnPct, run.Stats.WinRate,
		run.Stats.MaxDrawdownPct, run.Orders, run.Positions, string(cfgJSON), bytesOrNil(statsJSON),
		run.Message, now, now, nullableTime(run.CompletedAt))
	return err
}

func bytesOrNil(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// UpdateRunSummary 更新状态、指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id string, status string, stats RunStats, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	var completed interface{}
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, final_balance=?, profit=?, return_pct=?, win_rate=?, max_drawdown=?,
		    orders=?, positions=?, stats_json=?, message=?, updated_at=?,
		    completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`,
		status, stats.FinalBalance, stats.Profit, stats.ReturnPct, stats.WinRate,
		stats.MaxDrawdownPct, stats.Orders, stats.Positions, string(statsJSON), message, now,
		completed, completed, id)
	return err
}

func (s *ResultStore) InsertOrder(ctx context.Context, order *Order) (int64, error) {
	if order == nil {
		return 0, fmt.Errorf("backtest: order cannot be nil")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_orders
			(run_id, action, side, price, units, notional, commission, reason, tag,
			 executed_at, stop_loss, take_profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.RunID, order.Action, order.Side, order.Price, order.Units,
		order.Notional, order.Commission, order.Reason, order.Tag, order.ExecutedAt.UnixMilli(),
		nullIfZero(order.StopLoss), nullIfZero(order.TakeProfit))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err == nil {
		order.ID = id
	}
	return id, err
}

func (s *ResultStore) InsertPosition(ctx context.Context, pos *Position) (int64, error) {
	if pos == nil {
		return 0, fmt.Errorf("backtest: position cannot be nil")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_positions
			(run_id, instrument, side, entry_order_id, exit_order_id, entry_price, exit_price,
			 units, pnl, pnl_pct, holding_ms, exit_reason, opened_at, closed_at, stop_loss, take_profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.RunID, pos.Instrument, pos.Side, pos.EntryOrderID, pos.ExitOrderID, pos.EntryPrice,
		pos.ExitPrice, pos.Units, pos.PnL, pos.PnLPct, pos.HoldingMs, pos.ExitReason,
		pos.OpenedAt.UnixMilli(), pos.ClosedAt.UnixMilli(), nullIfZero(pos.StopLoss), nullIfZero(pos.TakeProfit))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err == nil {
		pos.ID = id
	}
	return id, err
}

func (s *ResultStore) InsertSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_snapshots
			(run_id, ts, equity, balance, drawdown, exposure)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.RunID, snap.TS, snap.Equity, snap.Balance, snap.Drawdown, snap.Exposure)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instrument, strategy, status, start_ts, end_ts, granularity, initial_balance,
		       final_balance, profit, return_pct, win_rate, max_drawdown, orders, positions,
		       config_json, stats_json, message, created_at, updated_at, completed_at
		FROM backtest_runs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, run)
	}
	return list, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, instrument, strategy, status, start_ts, end_ts, granularity, initial_balance,
		       final_balance, profit, return_pct, win_rate, max_drawdown, orders, positions,
		       config_json, stats_json, message, created_at, updated_at, completed_at
		FROM backtest_runs WHERE id=?`, id)
	return scanRun(row)
}

func (s *ResultStore) ListOrders(ctx context.Context, runID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, side, price, units, notional, commission, reason, tag,
		       executed_at, stop_loss, take_profit
		FROM backtest_orders
		WHERE run_id=?
		ORDER BY id ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var ord Order
		var tag sql.NullString
		var executedAt int64
		var sl, tp sql.NullFloat64
		if err := rows.Scan(&ord.ID, &ord.Action, &ord.Side, &ord.Price, &ord.Units,
			&ord.Notional, &ord.Commission, &ord.Reason, &tag, &executedAt, &sl, &tp); err != nil {
			return nil, err
		}
		ord.RunID = runID
		ord.ExecutedAt = timeFromMillis(executedAt)
		if tag.Valid {
			ord.Tag = tag.String
		}
		if sl.Valid {
			ord.StopLoss = sl.Float64
		}
		if tp.Valid {
			ord.TakeProfit = tp.Float64
		}
		out = append(out, ord)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListPositions(ctx context.Context, runID string, limit int) ([]Position, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instrument, side, entry_order_id, exit_order_id, entry_price, exit_price,
		       units, pnl, pnl_pct, holding_ms, exit_reason, opened_at, closed_at,
		       stop_loss, take_profit
		FROM backtest_positions
		WHERE run_id=?
		ORDER BY id ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Position
	for rows.Next() {
		var pos Position
		var exitReason sql.NullString
		var openedAt, closedAt int64
		var sl, tp sql.NullFloat64
		if err := rows.Scan(&pos.ID, &pos.Instrument, &pos.Side, &pos.EntryOrderID, &pos.ExitOrderID,
			&pos.EntryPrice, &pos.ExitPrice, &pos.Units, &pos.PnL, &pos.PnLPct,
			&pos.HoldingMs, &exitReason, &openedAt, &closedAt, &sl, &tp); err != nil {
			return nil, err
		}
		pos.RunID = runID
		pos.OpenedAt = timeFromMillis(openedAt)
		pos.ClosedAt = timeFromMillis(closedAt)
		if exitReason.Valid {
			pos.ExitReason = exitReason.String
		}
		if sl.Valid {
			pos.StopLoss = sl.Float64
		}
		if tp.Valid {
			pos.TakeProfit = tp.Float64
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]Snapshot, error) {
	if limit <= 0 || limit > 5000 {
		limit = 2000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, equity, balance, drawdown, exposure
		FROM backtest_snapshots
		WHERE run_id=?
		ORDER BY ts ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.TS, &snap.Equity, &snap.Balance, &snap.Drawdown, &snap.Exposure); err != nil {
			return nil, err
		}
		snap.RunID = runID
		out = append(out, snap)
	}
	return out, rows.Err()
}

func nullIfZero(v float64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var cfgStr string
	var statsStr sql.NullString
	var message sql.NullString
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.Instrument, &run.Strategy, &run.Status,
		&run.StartTS, &run.EndTS, &run.Granularity, &run.InitialBalance,
		&run.FinalBalance, &run.Profit, &run.ReturnPct, &run.WinRate, &run.MaxDrawdownPct,
		&run.Orders, &run.Positions, &cfgStr, &statsStr, &message, &createdAt, &updatedAt, &completedAt); err != nil {
		return Run{}, err
	}
	if message.Valid {
		run.Message = message.String
	}
	run.CreatedAt = timeFromMillis(createdAt)
	run.UpdatedAt = timeFromMillis(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = timeFromMillis(completedAt.Int64)
	}
	if err := json.Unmarshal([]byte(cfgStr), &run.Config); err != nil {
		return Run{}, err
	}
	if statsStr.Valid && statsStr.String != "" {
		if err := json.Unmarshal([]byte(statsStr.String), &run.Stats); err != nil {
			return Run{}, err
		}
	} else {
		run.Stats = RunStats{
			FinalBalance:   run.FinalBalance,
			Profit:         run.Profit,
			ReturnPct:      run.ReturnPct,
			WinRate:        run.WinRate,
			MaxDrawdownPct: run.MaxDrawdownPct,
			Orders:         run.Orders,
			Positions:      run.Positions,
		}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
