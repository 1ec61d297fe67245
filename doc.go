// Package dbsync keeps a table in one relational database in step with a
// query over another, one incremental run at a time.
//
// Source and target may each be Oracle, MySQL or PostgreSQL. A run reads the
// target's last sync time, streams every source row newer than it and
// upserts the rows into the target in batches: MERGE on Oracle,
// INSERT ... ON DUPLICATE KEY UPDATE on MySQL and INSERT ... ON CONFLICT on
// PostgreSQL. Re-running a job with no new source rows changes nothing.
//
// # Quick Start
//
// Describe jobs in YAML:
//
//	defaults:
//	  source_driver: mysqlCJ
//	  source_url: jdbc:mysql://src:3306/shop
//	  source_user: reader
//	  source_pass: ${SHOP_PASSWORD}
//	  target_driver: postgresql
//	  target_url: jdbc:postgresql://dw:5432/dw
//	jobs:
//	  - name: orders
//	    target_table: public.orders
//	    field_unique_key: id
//	    sql_select: SELECT id, status, updated_at FROM orders WHERE updated_at > ?
//	    sql_last_sync_time: SELECT MAX(updated_at) AS last_sync FROM public.orders
//	    field_last_sync_time: last_sync
//
// and run them:
//
//	dbsync validate --jobs jobs.yaml
//	dbsync run --jobs jobs.yaml --parallel 2 --metrics
//
// # Packages
//
//   - pkg/dialect: per-database SQL text, URL handling and upsert builders
//   - pkg/dbconn: pinned sessions with connection retries
//   - pkg/syncer: watermark, source cursor, value serializer, batch upserter
//     and the run handler
//   - pkg/config: job files and engine settings
//   - pkg/logger, pkg/metrics, pkg/observability: zap, Prometheus, OpenTelemetry
//
// Row values are written into the upsert statements as SQL literals, with
// single quotes doubled. This is the one place values are not bound as
// parameters.
package dbsync
