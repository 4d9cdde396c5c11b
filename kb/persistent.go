package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/surveyflow/types"
)

// intelligenceRecord is the persistent row for one questionnaire's latest
// intelligence. The full artifact is stored as JSON; confidence and source
// are lifted out for querying.
type intelligenceRecord struct {
	ID          uint   `gorm:"primaryKey"`
	URL         string `gorm:"uniqueIndex;size:768"`
	Payload     string
	Confidence  float64
	Source      string
	GeneratedAt time.Time
	UpdatedAt   time.Time
}

func (intelligenceRecord) TableName() string { return "intelligence" }

// guidanceRuleRecord is a generalized cross-URL rule retained across runs.
type guidanceRuleRecord struct {
	ID          uint `gorm:"primaryKey"`
	Pattern     string
	Answer      string
	Reasoning   string
	Confidence  float64
	SuccessRate float64
	SourceURL   string `gorm:"size:768"`
	CreatedAt   time.Time
}

func (guidanceRuleRecord) TableName() string { return "guidance_rules" }

// PersistentStore keeps one intelligence record per questionnaire URL plus
// generalized guidance rules, backed by SQLite. Only the analyzer writes it.
type PersistentStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPersistentStore opens (and migrates) the SQLite database at path.
// ":memory:" is accepted for tests.
func NewPersistentStore(path string, logger *zap.Logger) (*PersistentStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&intelligenceRecord{}, &guidanceRuleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate kb schema: %w", err)
	}
	return &PersistentStore{db: db, logger: logger}, nil
}

// SaveIntelligence upserts the intelligence for a URL. Re-analysis overwrites.
func (s *PersistentStore) SaveIntelligence(ctx context.Context, urlKey string, qi types.QuestionnaireIntelligence) error {
	payload, err := json.Marshal(qi)
	if err != nil {
		return fmt.Errorf("marshal intelligence: %w", err)
	}
	rec := intelligenceRecord{
		URL:         urlKey,
		Payload:     string(payload),
		Confidence:  qi.Confidence,
		Source:      qi.Source,
		GeneratedAt: qi.GeneratedAt,
		UpdatedAt:   time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "confidence", "source", "generated_at", "updated_at"}),
	}).Create(&rec).Error
}

// IntelligenceFor returns the stored intelligence for a URL, or ErrNotFound.
func (s *PersistentStore) IntelligenceFor(ctx context.Context, urlKey string) (types.QuestionnaireIntelligence, error) {
	var rec intelligenceRecord
	err := s.db.WithContext(ctx).Where("url = ?", urlKey).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.QuestionnaireIntelligence{}, ErrNotFound
	}
	if err != nil {
		return types.QuestionnaireIntelligence{}, err
	}
	var qi types.QuestionnaireIntelligence
	if err := json.Unmarshal([]byte(rec.Payload), &qi); err != nil {
		return types.QuestionnaireIntelligence{}, fmt.Errorf("decode intelligence: %w", err)
	}
	return qi, nil
}

// SaveGeneralRules appends generalized rules derived from one questionnaire.
func (s *PersistentStore) SaveGeneralRules(ctx context.Context, sourceURL string, rules []types.GuidanceRule) error {
	if len(rules) == 0 {
		return nil
	}
	records := make([]guidanceRuleRecord, 0, len(rules))
	for _, r := range rules {
		records = append(records, guidanceRuleRecord{
			Pattern:     r.Pattern,
			Answer:      r.Answer,
			Reasoning:   r.Reasoning,
			Confidence:  r.Confidence,
			SuccessRate: r.SuccessRate,
			SourceURL:   sourceURL,
			CreatedAt:   time.Now(),
		})
	}
	return s.db.WithContext(ctx).Create(&records).Error
}

// GeneralRules returns up to limit rules ordered by confidence descending.
func (s *PersistentStore) GeneralRules(ctx context.Context, limit int) ([]types.GuidanceRule, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []guidanceRuleRecord
	if err := s.db.WithContext(ctx).Order("confidence desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]types.GuidanceRule, 0, len(records))
	for _, rec := range records {
		out = append(out, types.GuidanceRule{
			Pattern:     rec.Pattern,
			Answer:      rec.Answer,
			Reasoning:   rec.Reasoning,
			Confidence:  rec.Confidence,
			SuccessRate: rec.SuccessRate,
		})
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *PersistentStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
