package rulestore

import (
	"context"
	"encoding/json"
	"fmt"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/sitewall/internal/block/domain"
)

var (
	bucketSync  = []byte("sync")
	keyRules    = []byte("rules")
	keySettings = []byte("settings")
)

// Bolt implements Store on a bbolt database. Values are JSON under the
// "sync" bucket, mirroring the synced-storage layout
// {rules: [...], settings: {...}}.
type Bolt struct {
	db *bbolt.DB
}

// NewBolt wraps an open database and ensures the sync bucket exists. The
// caller owns the database handle; multiple repositories may share it.
func NewBolt(db *bbolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSync)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating sync bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Rules(ctx context.Context) ([]domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rules []domain.Rule
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSync).Get(keyRules)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &rules)
	})
	if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	if rules == nil {
		rules = []domain.Rule{}
	}
	return rules, nil
}

func (b *Bolt) SaveRules(ctx context.Context, rules []domain.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSync).Put(keyRules, raw)
	})
	if err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}
	return nil
}

func (b *Bolt) Settings(ctx context.Context) (domain.Settings, error) {
	if err := ctx.Err(); err != nil {
		return domain.Settings{}, err
	}
	settings := domain.DefaultSettings()
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSync).Get(keySettings)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &settings)
	})
	if err != nil {
		return domain.Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	return settings, nil
}

func (b *Bolt) SaveSettings(ctx context.Context, s domain.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSync).Put(keySettings, raw)
	})
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}
