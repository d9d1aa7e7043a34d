package records

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/kikiluvv/reelscribe/internal/failure"
	"github.com/kikiluvv/reelscribe/pkg/util"
)

// recordRow adds a surrogate key; the same video may appear once per run
type recordRow struct {
	ID          uint `gorm:"primaryKey"`
	VideoRecord `gorm:"embedded"`
}

func (recordRow) TableName() string { return "video_records" }

// SQLStore keeps records in a video_records table through gorm
type SQLStore struct {
	logger zerolog.Logger
	db     *gorm.DB
	mu     sync.Mutex
}

// NewSQLStore opens "sqlite://path" or a postgres DSN and migrates the table
func NewSQLStore(logger zerolog.Logger, dsn string) (*SQLStore, error) {
	log := logger.With().Str("component", "sql_store").Logger()

	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	log.Info().Str("dsn", redact(dsn)).Msg("connecting to record store")
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, failure.New(failure.Persistence, "connect "+redact(dsn), err)
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, failure.New(failure.Persistence, "migrate video_records", err)
	}
	return &SQLStore{logger: log, db: db}, nil
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	if path, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		if path == "" {
			return nil, fmt.Errorf("sqlite DSN has no path")
		}
		if !strings.HasPrefix(path, "file:") && path != ":memory:" {
			if err := util.EnsureDir(filepath.Dir(path)); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return sqlite.Open(path), nil
	}
	return postgres.Open(dsn), nil
}

// Append inserts recs in one transaction
func (s *SQLStore) Append(ctx context.Context, recs ...VideoRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]recordRow, len(recs))
	for i, r := range recs {
		rows[i] = recordRow{VideoRecord: r}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return failure.New(failure.Persistence, "insert video_records", err)
	}
	s.logger.Debug().Int("rows", len(rows)).Msg("appended records")
	return nil
}

func (s *SQLStore) ProcessedIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&recordRow{}).
		Distinct("video_id").
		Pluck("video_id", &ids).Error
	if err != nil {
		return nil, failure.New(failure.Persistence, "query processed ids", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Load returns rows in insertion order
func (s *SQLStore) Load(ctx context.Context) ([]VideoRecord, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, failure.New(failure.Persistence, "load video_records", err)
	}
	recs := make([]VideoRecord, len(rows))
	for i, r := range rows {
		recs[i] = r.VideoRecord
	}
	return recs, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
