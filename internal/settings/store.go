package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/rules"
	"github.com/feedpilot/feedpilot/internal/storage"
)

// Store persists one platform's settings blob under a fixed key. Reads
// auto-migrate legacy blobs and persist the upgraded shape so migration
// runs at most once per install.
type Store struct {
	kv     *storage.KV
	key    string
	logger *zap.Logger
}

// NewStore binds a settings store to a blob key, one of
// storage.KeySettingDouyin or storage.KeySettingXHS.
func NewStore(kv *storage.KV, key string, logger *zap.Logger) *Store {
	return &Store{kv: kv, key: key, logger: logger.With(zap.String("settings_key", key))}
}

// Load reads the current settings, migrating v1 blobs in place. A missing
// or unrecognized blob yields defaults.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	raw, ok, err := s.kv.GetRaw(ctx, s.key)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return Default(), nil
	}

	switch DetectVersion(raw) {
	case VersionV2:
		var out Settings
		if err := json.Unmarshal(raw, &out); err != nil {
			return Settings{}, fmt.Errorf("decode settings %q: %w", s.key, err)
		}
		return out, nil
	case VersionV1:
		var v1 SettingsV1
		if err := json.Unmarshal(raw, &v1); err != nil {
			return Settings{}, fmt.Errorf("decode legacy settings %q: %w", s.key, err)
		}
		migrated := MigrateV1ToV2(v1)
		if err := s.kv.Set(ctx, s.key, migrated); err != nil {
			return Settings{}, fmt.Errorf("persist migrated settings %q: %w", s.key, err)
		}
		s.logger.Info("Migrated legacy settings blob to v2")
		return migrated, nil
	default:
		s.logger.Warn("Unrecognized settings version, falling back to defaults")
		return Default(), nil
	}
}

// Save replaces the stored settings wholesale. The version marker is
// forced so callers cannot persist an unversioned blob.
func (s *Store) Save(ctx context.Context, v Settings) error {
	v.Version = string(VersionV2)
	return s.kv.Set(ctx, s.key, v)
}

// Update applies an edit to the current settings and persists the result,
// returning the new value.
func (s *Store) Update(ctx context.Context, apply func(Settings) Settings) (Settings, error) {
	cur, err := s.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := apply(cur)
	if err := s.Save(ctx, next); err != nil {
		return Settings{}, err
	}
	return next, nil
}

// CreateRuleGroup appends a new group, under parentID when non-empty.
func (s *Store) CreateRuleGroup(ctx context.Context, g rules.Group, parentID string) (Settings, error) {
	return s.editForest(ctx, func(forest []rules.Group) ([]rules.Group, error) {
		return rules.Insert(forest, g, parentID)
	})
}

// UpdateRuleGroup replaces the editable fields of the group with the given
// id.
func (s *Store) UpdateRuleGroup(ctx context.Context, id string, g rules.Group) (Settings, error) {
	return s.editForest(ctx, func(forest []rules.Group) ([]rules.Group, error) {
		return rules.Update(forest, id, func(rules.Group) rules.Group { return g })
	})
}

// DeleteRuleGroup removes the group with the given id and its whole
// subtree.
func (s *Store) DeleteRuleGroup(ctx context.Context, id string) (Settings, error) {
	return s.editForest(ctx, func(forest []rules.Group) ([]rules.Group, error) {
		return rules.Delete(forest, id)
	})
}

// CopyRuleGroup duplicates the group with the given id, minting fresh ids
// throughout the copied subtree.
func (s *Store) CopyRuleGroup(ctx context.Context, id, parentID string) (Settings, error) {
	return s.editForest(ctx, func(forest []rules.Group) ([]rules.Group, error) {
		return rules.Copy(forest, id, parentID)
	})
}

func (s *Store) editForest(ctx context.Context, edit func([]rules.Group) ([]rules.Group, error)) (Settings, error) {
	cur, err := s.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	next, err := edit(cur.RuleGroups)
	if err != nil {
		return Settings{}, err
	}
	cur.RuleGroups = next
	if err := s.Save(ctx, cur); err != nil {
		return Settings{}, err
	}
	return cur, nil
}
