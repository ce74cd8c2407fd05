package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/models"
)

const defaultMirrorBatchSize = 500

// mirrorRow is one buffered row of the ClickHouse events table.
type mirrorRow struct {
	id         int64
	kind       string
	campaignID string
	contactID  string
	emailID    string
	url        string
	occurredAt time.Time
	deviceType string
	browser    string
	os         string
	country    string
	city       string
	metadata   string
}

// ClickHouseEventMirror buffers events and inserts them into ClickHouse in
// batches. A batch is sent when it reaches batchSize or on Flush.
type ClickHouseEventMirror struct {
	conn      driver.Conn
	table     string
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu     sync.Mutex
	buffer []mirrorRow
}

// NewClickHouseEventMirror creates a mirror writing to table.
func NewClickHouseEventMirror(conn driver.Conn, table string, batchSize int, m *metrics.Metrics, logger *zap.Logger) *ClickHouseEventMirror {
	if batchSize <= 0 {
		batchSize = defaultMirrorBatchSize
	}
	return &ClickHouseEventMirror{
		conn:      conn,
		table:     table,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger,
		buffer:    make([]mirrorRow, 0, batchSize),
	}
}

// EnsureTable creates the events table if it does not exist.
func (m *ClickHouseEventMirror) EnsureTable(ctx context.Context) error {
	err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          Int64,
			kind        LowCardinality(String),
			campaign_id String,
			contact_id  String,
			email_id    String,
			url         String,
			occurred_at DateTime64(3, 'UTC'),
			device_type LowCardinality(String),
			browser     LowCardinality(String),
			os          LowCardinality(String),
			country     LowCardinality(String),
			city        String,
			metadata    String
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (campaign_id, occurred_at, kind, id)
	`, m.table))
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

// Mirror buffers e and sends the batch once it is full.
func (m *ClickHouseEventMirror) Mirror(ctx context.Context, e models.InteractionEvent) error {
	row, err := toMirrorRow(e)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.buffer = append(m.buffer, row)
	if len(m.buffer) < m.batchSize {
		m.mu.Unlock()
		return nil
	}
	rows := m.take()
	m.mu.Unlock()

	return m.send(ctx, rows)
}

// Flush sends whatever is buffered.
func (m *ClickHouseEventMirror) Flush(ctx context.Context) error {
	m.mu.Lock()
	rows := m.take()
	m.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	return m.send(ctx, rows)
}

// Close flushes the buffer. The connection is owned by the caller.
func (m *ClickHouseEventMirror) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.Flush(ctx)
}

// take must be called with mu held.
func (m *ClickHouseEventMirror) take() []mirrorRow {
	rows := m.buffer
	m.buffer = make([]mirrorRow, 0, m.batchSize)
	return rows
}

func (m *ClickHouseEventMirror) send(ctx context.Context, rows []mirrorRow) error {
	batch, err := m.conn.PrepareBatch(ctx, "INSERT INTO "+m.table)
	if err != nil {
		m.metrics.RecordMirrorBatch(false)
		return fmt.Errorf("failed to prepare ClickHouse batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.id, r.kind, r.campaignID, r.contactID, r.emailID, r.url, r.occurredAt,
			r.deviceType, r.browser, r.os, r.country, r.city, r.metadata,
		); err != nil {
			_ = batch.Abort()
			m.metrics.RecordMirrorBatch(false)
			return fmt.Errorf("failed to append ClickHouse row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		m.metrics.RecordMirrorBatch(false)
		return fmt.Errorf("failed to send ClickHouse batch: %w", err)
	}

	m.metrics.RecordMirrorBatch(true)
	m.logger.Debug("mirrored events to ClickHouse", zap.Int("rows", len(rows)))
	return nil
}

func toMirrorRow(e models.InteractionEvent) (mirrorRow, error) {
	b := e.Base()
	row := mirrorRow{
		id:         b.ID,
		kind:       string(e.Kind()),
		campaignID: b.CampaignID,
		contactID:  b.ContactID,
		emailID:    b.EmailID,
		occurredAt: b.Timestamp,
		deviceType: b.DeviceType,
		browser:    b.Browser,
		os:         b.OS,
		country:    b.Country,
		city:       b.City,
	}
	if click, ok := e.(*models.ClickEvent); ok {
		row.url = click.URL
	}
	if len(b.Metadata) > 0 {
		raw, err := json.Marshal(b.Metadata)
		if err != nil {
			return mirrorRow{}, fmt.Errorf("failed to encode event metadata: %w", err)
		}
		row.metadata = string(raw)
	}
	return row, nil
}

// NopEventMirror discards events. Used when no analytics sink is configured.
type NopEventMirror struct{}

func (NopEventMirror) Mirror(ctx context.Context, e models.InteractionEvent) error { return nil }
func (NopEventMirror) Flush(ctx context.Context) error                             { return nil }
func (NopEventMirror) Close() error                                                { return nil }
