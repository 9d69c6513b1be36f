package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// EmbeddingDim is the vector column width. It must match the embedder's
// output dimension (nomic-embed-text emits 768).
const EmbeddingDim = 768

type memoryRow struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Text           string          `gorm:"not null"`
	Embedding      pgvector.Vector `gorm:"type:vector(768);not null"`
	Meta           string
	AccessCount    int `gorm:"not null;default:0"`
	CreatedAt      time.Time
	LastAccessedAt *time.Time
}

func (memoryRow) TableName() string { return "memories" }

// PGStore is the durable Store backed by Postgres with the pgvector
// extension. Retrieval orders by cosine distance in the database; the
// composite scoring stays in the retriever.
type PGStore struct {
	db *gorm.DB
}

// OpenPG connects to Postgres, ensures the vector extension and schema, and
// returns a PGStore.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	if err := db.AutoMigrate(&memoryRow{}); err != nil {
		return nil, fmt.Errorf("migrate memories: %w", err)
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) Store(ctx context.Context, text string, vec []float32, meta map[string]string) error {
	if len(vec) != EmbeddingDim {
		return fmt.Errorf("embedding dimension %d, want %d", len(vec), EmbeddingDim)
	}
	metaJSON := ""
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		metaJSON = string(b)
	}
	row := memoryRow{
		ID:        uuid.New(),
		Text:      text,
		Embedding: pgvector.NewVector(vec),
		Meta:      metaJSON,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *PGStore) TopK(ctx context.Context, vec []float32, k int) ([]Candidate, error) {
	var rows []memoryRow
	err := s.db.WithContext(ctx).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{pgvector.NewVector(vec)}},
		}).
		Limit(k).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		emb := r.Embedding.Slice()
		out = append(out, Candidate{
			ID:          r.ID.String(),
			Text:        r.Text,
			Vector:      emb,
			CreatedAt:   r.CreatedAt,
			AccessCount: r.AccessCount,
			Similarity:  Cosine(vec, emb),
		})
		ids = append(ids, r.ID)
	}
	if len(ids) > 0 {
		now := time.Now()
		_ = s.db.WithContext(ctx).Model(&memoryRow{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"access_count":     gorm.Expr("access_count + 1"),
				"last_accessed_at": now,
			}).Error
	}
	return out, nil
}
