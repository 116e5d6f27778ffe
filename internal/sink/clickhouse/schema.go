package clickhouse

// createTableDDL keeps raw rows for 30 days, partitioned by month.
const createTableDDL = `CREATE TABLE IF NOT EXISTS %s (
	timestamp  DateTime64(3, 'UTC'),
	hostname   LowCardinality(String),
	chart_id   LowCardinality(String),
	chart_name String,
	dimension  LowCardinality(String),
	value      Float64,
	units      Nullable(String),
	family     String,
	context    String,
	chart_type LowCardinality(String)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (hostname, chart_id, dimension, timestamp)
TTL toDateTime(timestamp) + INTERVAL 30 DAY`
