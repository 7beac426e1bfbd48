package vectorstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tongyi-community/dashscope-go/document"
	"github.com/tongyi-community/dashscope-go/internal/metrics"
)

//go:embed migrations/oceanbase/*.sql
var oceanbaseMigrations embed.FS

// OceanBaseConfig 配置 OceanBase 向量存储。
type OceanBaseConfig struct {
	// TableName 向量表名，默认 dashscope_vectors。
	TableName string `yaml:"table_name" json:"table_name"`
	// Dimension 向量维度，仅用于写入前校验；0 表示不校验。
	Dimension int `yaml:"dimension" json:"dimension"`
}

// OceanBaseStore 基于 OceanBase 4.x 向量列的存储。
// 走 MySQL 协议，检索用 cosine_distance 下推到库内执行。
type OceanBaseStore struct {
	db      *gorm.DB
	cfg     OceanBaseConfig
	logger  *zap.Logger
	metrics *metrics.Collector
}

// OceanBaseOption customizes an OceanBaseStore.
type OceanBaseOption func(*OceanBaseStore)

// WithOceanBaseMetrics sets the metrics collector.
func WithOceanBaseMetrics(m *metrics.Collector) OceanBaseOption {
	return func(s *OceanBaseStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewOceanBaseStore 创建 OceanBase 向量存储。db 由调用方打开并管理生命周期。
func NewOceanBaseStore(db *gorm.DB, cfg OceanBaseConfig, logger *zap.Logger, opts ...OceanBaseOption) (*OceanBaseStore, error) {
	if db == nil {
		return nil, errors.New("oceanbase: db cannot be nil")
	}
	if cfg.TableName == "" {
		cfg.TableName = "dashscope_vectors"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OceanBaseStore{
		db:      db,
		cfg:     cfg,
		logger:  logger.With(zap.String("store", "oceanbase")),
		metrics: metrics.Nop(),
	}, nil
}

// MigrateOceanBase 用嵌入式迁移文件建向量表。
// db 为 MySQL 协议连接（OceanBase 兼容）。
func MigrateOceanBase(db *sql.DB, tableName string) error {
	src, err := iofs.New(oceanbaseMigrations, "migrations/oceanbase")
	if err != nil {
		return fmt.Errorf("oceanbase: load migrations: %w", err)
	}

	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{
		MigrationsTable: tableName + "_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("oceanbase: init migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return fmt.Errorf("oceanbase: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("oceanbase: run migrations: %w", err)
	}
	return nil
}

// Add 写入向量，同 doc_id 覆盖。
func (s *OceanBaseStore) Add(ctx context.Context, entries []Entry) error {
	start := time.Now()
	defer func() { s.metrics.RecordVectorStoreOp("oceanbase", "add", time.Since(start)) }()

	for _, e := range entries {
		if s.cfg.Dimension > 0 && len(e.Embedding) != s.cfg.Dimension {
			return fmt.Errorf("oceanbase: embedding dimension %d != expected %d (doc %s)",
				len(e.Embedding), s.cfg.Dimension, e.Document.ID)
		}

		meta, err := json.Marshal(e.Document.Metadata)
		if err != nil {
			return fmt.Errorf("oceanbase: marshal metadata for %s: %w", e.Document.ID, err)
		}

		stmt := fmt.Sprintf(`INSERT INTO %s (doc_id, content, metadata, embedding) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE content = VALUES(content), metadata = VALUES(metadata), embedding = VALUES(embedding)`,
			s.cfg.TableName)
		if err := s.db.WithContext(ctx).Exec(stmt,
			e.Document.ID, e.Document.Text, string(meta), encodeVector(e.Embedding),
		).Error; err != nil {
			return fmt.Errorf("oceanbase: insert %s: %w", e.Document.ID, err)
		}
	}

	s.logger.Debug("entries added", zap.Int("count", len(entries)))
	return nil
}

// Search 库内余弦检索。distance = cosine_distance，score = 1 - distance。
func (s *OceanBaseStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]SearchResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordVectorStoreOp("oceanbase", "search", time.Since(start)) }()

	if topK <= 0 {
		topK = 10
	}

	query := fmt.Sprintf(`SELECT doc_id, content, metadata, cosine_distance(embedding, ?) AS distance
FROM %s ORDER BY distance ASC LIMIT ?`, s.cfg.TableName)

	rows, err := s.db.WithContext(ctx).Raw(query, encodeVector(queryEmbedding), topK).Rows()
	if err != nil {
		return nil, fmt.Errorf("oceanbase: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var docID, content, metaJSON string
		var distance float64
		if err := rows.Scan(&docID, &content, &metaJSON, &distance); err != nil {
			return nil, fmt.Errorf("oceanbase: scan row: %w", err)
		}

		var meta map[string]any
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
				s.logger.Warn("bad metadata json", zap.String("doc_id", docID), zap.Error(err))
			}
		}

		results = append(results, SearchResult{
			Document: document.Document{ID: docID, Text: content, Metadata: meta},
			Score:    1 - distance,
			Distance: distance,
		})
	}
	return results, rows.Err()
}

// Delete 按 doc_id 删除。
func (s *OceanBaseStore) Delete(ctx context.Context, ids []string) error {
	start := time.Now()
	defer func() { s.metrics.RecordVectorStoreOp("oceanbase", "delete", time.Since(start)) }()

	if len(ids) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE doc_id IN ?", s.cfg.TableName)
	if err := s.db.WithContext(ctx).Exec(stmt, ids).Error; err != nil {
		return fmt.Errorf("oceanbase: delete: %w", err)
	}
	return nil
}

// Count 返回表内记录数。
func (s *OceanBaseStore) Count(ctx context.Context) (int64, error) {
	var count int64
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.cfg.TableName)
	if err := s.db.WithContext(ctx).Raw(stmt).Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("oceanbase: count: %w", err)
	}
	return count, nil
}

// encodeVector 编码为 OceanBase 向量字面量 '[v1,v2,...]'。
func encodeVector(vec []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}
