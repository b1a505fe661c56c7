package repository

import "fmt"

// Schema returns the idempotent DDL for every table the engine writes.
func Schema(db string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.candles (
			symbol LowCardinality(String),
			tf LowCardinality(String),
			bucket DateTime('UTC'),
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64
		) ENGINE = ReplacingMergeTree
		ORDER BY (symbol, tf, bucket)
		TTL bucket + INTERVAL 30 DAY`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
			id String,
			decision_id String,
			symbol LowCardinality(String),
			tf LowCardinality(String),
			action LowCardinality(String),
			size Float64,
			leverage Float64,
			entry_price Float64,
			stop_loss Float64,
			take_profit Float64,
			confidence Float64,
			status LowCardinality(String),
			state LowCardinality(String),
			pnl Float64,
			exit_price Float64,
			exit_reason LowCardinality(String),
			candles_held UInt32,
			timeout_candles UInt32,
			opened_at DateTime64(3, 'UTC'),
			ts DateTime64(3, 'UTC'),
			version UInt64
		) ENGINE = ReplacingMergeTree(version)
		ORDER BY id`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.position_updates (
			trade_id String,
			symbol LowCardinality(String),
			price Float64,
			unrealized_pnl Float64,
			candles_held UInt32,
			ts DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (trade_id, ts)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.ai_decisions (
			id String,
			symbol LowCardinality(String),
			direction LowCardinality(String),
			entry_price Float64,
			confidence Float64,
			low_quality UInt8,
			approved UInt8,
			reasoning String,
			model LowCardinality(String),
			capital Float64,
			signal String,
			ts DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (symbol, ts)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.performance_log (
			capital Float64,
			total_trades UInt32,
			winning_trades UInt32,
			losing_trades UInt32,
			realized_pnl Float64,
			pnl_today Float64,
			gate_state LowCardinality(String),
			ts DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY ts`, db),
	}
}
