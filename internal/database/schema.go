package database

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(255) NOT NULL DEFAULT '',
    full_name VARCHAR(255) NOT NULL DEFAULT '',
    avatar_url VARCHAR(1024) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS credits (
    user_id VARCHAR(64) PRIMARY KEY,
    balance INT NOT NULL DEFAULT 0,
    lifetime_credits INT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    CONSTRAINT chk_credits_balance CHECK (balance >= 0),
    FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
    seq BIGINT AUTO_INCREMENT PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    user_id VARCHAR(64) NOT NULL,
    amount INT NOT NULL,
    type VARCHAR(16) NOT NULL,
    balance_after INT NOT NULL,
    reference_id VARCHAR(64) NULL,
    reference_type VARCHAR(16) NULL,
    description VARCHAR(512) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_txn_reference (user_id, type, reference_type, reference_id),
    KEY idx_txn_user_seq (user_id, seq),
    FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS generations (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    prompt TEXT NOT NULL,
    aspect_ratio VARCHAR(8) NOT NULL,
    image_size VARCHAR(8) NOT NULL,
    status VARCHAR(16) NOT NULL,
    credits_used INT NOT NULL,
    image_url VARCHAR(1024) NULL,
    image_data LONGBLOB NULL,
    image_mime VARCHAR(64) NULL,
    error_message TEXT NULL,
    metadata TEXT NULL,
    created_at DATETIME(6) NOT NULL,
    completed_at DATETIME(6) NULL,
    KEY idx_generations_user_created (user_id, created_at),
    FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS purchases (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    package_id VARCHAR(64) NULL,
    credits_purchased INT NOT NULL,
    amount_paid DECIMAL(12,2) NOT NULL,
    currency VARCHAR(8) NOT NULL,
    payment_provider VARCHAR(32) NOT NULL,
    payment_status VARCHAR(16) NOT NULL,
    transaction_id VARCHAR(128) NOT NULL UNIQUE,
    metadata TEXT NULL,
    created_at DATETIME(6) NOT NULL,
    completed_at DATETIME(6) NULL,
    KEY idx_purchases_user_created (user_id, created_at)
)`,
	`CREATE TABLE IF NOT EXISTS credit_packages (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT NULL,
    credits INT NOT NULL,
    price_minor_units INT NOT NULL,
    currency VARCHAR(8) NOT NULL,
    is_popular TINYINT(1) NOT NULL DEFAULT 0,
    is_active TINYINT(1) NOT NULL DEFAULT 1,
    sort_order INT NOT NULL DEFAULT 0,
    provider_product_id VARCHAR(128) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    credits INT NOT NULL,
    max_uses INT NOT NULL,
    uses INT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS promo_redemptions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    promo_code_id BIGINT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    UNIQUE KEY uniq_user_promo (user_id, promo_code_id),
    FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE,
    FOREIGN KEY (promo_code_id) REFERENCES promo_codes(id) ON DELETE CASCADE
)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT '',
    full_name TEXT NOT NULL DEFAULT '',
    avatar_url TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS credits (
    user_id TEXT PRIMARY KEY REFERENCES profiles(id) ON DELETE CASCADE,
    balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    lifetime_credits INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    amount INTEGER NOT NULL,
    type TEXT NOT NULL,
    balance_after INTEGER NOT NULL,
    reference_id TEXT NULL,
    reference_type TEXT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_txn_reference ON credit_transactions (user_id, type, reference_type, reference_id)`,
	`CREATE INDEX IF NOT EXISTS idx_txn_user_seq ON credit_transactions (user_id, seq)`,
	`CREATE TABLE IF NOT EXISTS generations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    prompt TEXT NOT NULL,
    aspect_ratio TEXT NOT NULL,
    image_size TEXT NOT NULL,
    status TEXT NOT NULL,
    credits_used INTEGER NOT NULL,
    image_url TEXT NULL,
    image_data BLOB NULL,
    image_mime TEXT NULL,
    error_message TEXT NULL,
    metadata TEXT NULL,
    created_at DATETIME NOT NULL,
    completed_at DATETIME NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_user_created ON generations (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS purchases (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    package_id TEXT NULL,
    credits_purchased INTEGER NOT NULL,
    amount_paid TEXT NOT NULL,
    currency TEXT NOT NULL,
    payment_provider TEXT NOT NULL,
    payment_status TEXT NOT NULL,
    transaction_id TEXT NOT NULL UNIQUE,
    metadata TEXT NULL,
    created_at DATETIME NOT NULL,
    completed_at DATETIME NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_user_created ON purchases (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS credit_packages (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NULL,
    credits INTEGER NOT NULL,
    price_minor_units INTEGER NOT NULL,
    currency TEXT NOT NULL,
    is_popular BOOLEAN NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    sort_order INTEGER NOT NULL DEFAULT 0,
    provider_product_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS promo_codes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    code TEXT NOT NULL UNIQUE,
    credits INTEGER NOT NULL,
    max_uses INTEGER NOT NULL,
    uses INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS promo_redemptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    promo_code_id INTEGER NOT NULL REFERENCES promo_codes(id) ON DELETE CASCADE,
    created_at DATETIME NOT NULL,
    UNIQUE (user_id, promo_code_id)
)`,
}
