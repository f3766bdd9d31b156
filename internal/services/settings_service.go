// Package services – SettingsService
//
// SettingsService reads and writes the three Telegram integration settings
// (bot token, destination group id, auto-post flag) kept as key/value rows.
// Rows are seeded lazily with configured defaults. Nothing is cached: every
// call reads the table, so an admin edit takes effect on the next run.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/repo"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/sysutil"
)

// Known settings keys.
const (
	KeyBotToken = "telegram_bot_token"
	KeyGroupID  = "telegram_group_id"
	KeyAutoPost = "telegram_auto_post"
)

// TelegramConfig is the effective integration configuration for one run.
type TelegramConfig struct {
	BotToken string `json:"botToken"`
	GroupID  string `json:"groupId"`
	AutoPost bool   `json:"autoPost"`
}

// Configured reports whether both the token and destination are present.
func (c TelegramConfig) Configured() bool {
	return strings.TrimSpace(c.BotToken) != "" && strings.TrimSpace(c.GroupID) != ""
}

// ConfigUpdate carries a partial settings update. Nil fields are left as is.
type ConfigUpdate struct {
	BotToken *string
	GroupID  *string
	AutoPost *bool
}

// SettingsService implements the settings accessor over DB.
type SettingsService struct {
	DB       *gorm.DB
	Defaults TelegramConfig
}

func (s *SettingsService) defaults() map[string]string {
	return map[string]string{
		KeyBotToken: s.Defaults.BotToken,
		KeyGroupID:  s.Defaults.GroupID,
		KeyAutoPost: strconv.FormatBool(s.Defaults.AutoPost),
	}
}

// EnsureDefaults inserts a default row for every known key that is missing.
// It is best-effort: failures are logged and the caller carries on with
// in-memory defaults.
func (s *SettingsService) EnsureDefaults(ctx context.Context) {
	lg := loggerFrom(ctx)
	for _, key := range []string{KeyBotToken, KeyGroupID, KeyAutoPost} {
		if _, err := repo.GetSetting(ctx, s.DB, key); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			lg.Warn().Err(err).Str("key", key).Msg("settings: existence check failed")
			continue
		}
		inserted, err := repo.InsertSettingIfMissing(ctx, s.DB, key, s.defaults()[key])
		if err != nil {
			lg.Warn().Err(err).Str("key", key).Msg("settings: seeding default failed")
			continue
		}
		if inserted {
			lg.Info().Str("key", key).Msg("settings: default seeded")
		}
	}
}

// GetConfig seeds missing defaults and returns the stored configuration. A
// key whose row is missing or unreadable takes its default. The error is
// always nil; reads never fail the caller.
func (s *SettingsService) GetConfig(ctx context.Context) (TelegramConfig, error) {
	ctx, span := otel.Tracer("services/SettingsService").Start(ctx, "GetConfig")
	defer span.End()

	s.EnsureDefaults(ctx)

	defs := s.defaults()
	val := func(key string) string {
		row, err := repo.GetSetting(ctx, s.DB, key)
		if err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				loggerFrom(ctx).Warn().Err(err).Str("key", key).Msg("settings: read failed, using default")
			}
			return defs[key]
		}
		return row.Value
	}

	return TelegramConfig{
		BotToken: strings.TrimSpace(val(KeyBotToken)),
		GroupID:  strings.TrimSpace(val(KeyGroupID)),
		AutoPost: sysutil.IsTruthy(val(KeyAutoPost)), // rows edited by hand may say "1" or "yes"
	}, nil
}

// SaveConfig writes the provided keys and returns the resulting config.
func (s *SettingsService) SaveConfig(ctx context.Context, u ConfigUpdate) (TelegramConfig, error) {
	ctx, span := otel.Tracer("services/SettingsService").Start(ctx, "SaveConfig")
	defer span.End()

	writes := map[string]string{}
	if u.BotToken != nil {
		writes[KeyBotToken] = strings.TrimSpace(*u.BotToken)
	}
	if u.GroupID != nil {
		gid := strings.TrimSpace(*u.GroupID)
		if strings.ContainsAny(gid, " \t\n") {
			return TelegramConfig{}, fmt.Errorf("%w: group id must not contain spaces", ErrInvalidSetting)
		}
		writes[KeyGroupID] = gid
	}
	if u.AutoPost != nil {
		writes[KeyAutoPost] = strconv.FormatBool(*u.AutoPost)
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range writes {
			if err := repo.UpsertSetting(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return TelegramConfig{}, err
	}
	return s.GetConfig(ctx)
}
