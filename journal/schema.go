package journal

const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	is_long BOOLEAN NOT NULL,
	processor TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	entry_time DATETIME NOT NULL,
	exit_time DATETIME NOT NULL,
	qty REAL NOT NULL,
	gl REAL NOT NULL,
	gl_pct REAL NOT NULL,
	slippage REAL,
	slippage_pct REAL
);

CREATE INDEX IF NOT EXISTS idx_transactions_exit ON transactions(exit_time);

CREATE TABLE IF NOT EXISTS aggregation (
	date TEXT NOT NULL,
	processor TEXT NOT NULL,
	gl REAL NOT NULL,
	avg_gl_pct REAL NOT NULL,
	slippage REAL NOT NULL,
	avg_slippage_pct REAL NOT NULL,
	count INTEGER NOT NULL,
	win_count INTEGER NOT NULL,
	lose_count INTEGER NOT NULL,
	slippage_count INTEGER NOT NULL,
	PRIMARY KEY (date, processor)
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	cash REAL NOT NULL,
	equity REAL NOT NULL,
	positions INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);

CREATE TABLE IF NOT EXISTS logs (
	date TEXT NOT NULL,
	logger TEXT NOT NULL,
	content TEXT NOT NULL,
	PRIMARY KEY (date, logger)
);
`
