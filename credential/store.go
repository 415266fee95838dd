package credential

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/flanksource/commons/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Credential is a test user. Either Password or Certificate is set.
type Credential struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	Password    string `json:"-"`
	Certificate []byte `json:"-"`
	Passphrase  string `json:"-"`
	// SecretKey overrides the vault key derived from Username.
	SecretKey string    `json:"secretKey,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Credential) IsCertificate() bool { return len(c.Certificate) > 0 }

// TemplateMap exposes the credential, secrets included, to manifest
// commands. The certificate is base64 encoded.
func (c Credential) TemplateMap() map[string]any {
	m := map[string]any{
		"username":   c.Username,
		"password":   c.Password,
		"passphrase": c.Passphrase,
		"secretKey":  c.SecretKey,
	}
	if c.IsCertificate() {
		m["certificate"] = base64.StdEncoding.EncodeToString(c.Certificate)
	} else {
		m["certificate"] = ""
	}
	return m
}

// Complete reports whether the credential can be used to sign in.
func (c Credential) Complete() bool { return c.Password != "" || c.IsCertificate() }

// ErrNotFound is returned when no credential matches.
var ErrNotFound = errors.New("credential not found")

// Store persists credentials in sqlite or postgres.
type Store struct {
	db *gorm.DB
}

var migrate = func(db *gorm.DB) error { return db.AutoMigrate(&Credential{}) }

// Open connects to dsn and migrates the schema. A dsn starting with
// postgres:// or postgresql:// uses postgres, anything else is a sqlite path
// (":memory:" included).
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// every sqlite connection would otherwise see its own :memory: database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate credential store: %w", err)
	}
	logger.Debugf("Opened %s credential store", dialector.Name())
	return &Store{db: db}, nil
}

// Save inserts or updates the credential keyed by username.
func (s *Store) Save(ctx context.Context, creds ...Credential) error {
	for _, c := range creds {
		c.ID = 0
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"password", "certificate", "passphrase", "secret_key", "updated_at"}),
		}).Create(&c).Error
		if err != nil {
			return fmt.Errorf("failed to save credential %s: %w", c.Username, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, username string) (Credential, error) {
	var c Credential
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	return c, err
}

// Find returns the credentials whose username matches the glob pattern, ordered by username.
func (s *Store) Find(ctx context.Context, pattern string) ([]Credential, error) {
	if pattern == "" {
		pattern = "*"
	}
	var all []Credential
	if err := s.db.WithContext(ctx).Order("username").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	var matched []Credential
	for _, c := range all {
		ok, err := doublestar.Match(pattern, c.Username)
		if err != nil {
			return nil, fmt.Errorf("invalid credential pattern %q: %w", pattern, err)
		}
		if ok {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (s *Store) Delete(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).Where("username = ?", username).Delete(&Credential{}).Error
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
