package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Platforms accepted for device push tokens.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// DevicePushToken represents a push notification token for a device
type DevicePushToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // "ios" or "android"
	CreatedAt time.Time `json:"created_at"`
}

// ValidPlatform reports whether platform is one the notifier can deliver to.
func ValidPlatform(platform string) bool {
	switch strings.ToLower(platform) {
	case PlatformIOS, PlatformAndroid:
		return true
	}
	return false
}

// RegisterPushToken registers or updates a device push token for a user
func (s *Store) RegisterPushToken(ctx context.Context, userID, token, platform string) error {
	if !s.Enabled() {
		return ErrNoDatabase
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_push_tokens (user_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, token) DO UPDATE SET
			platform = EXCLUDED.platform,
			created_at = NOW()
	`, userID, token, strings.ToLower(platform))
	if err != nil {
		return fmt.Errorf("register push token: %w", err)
	}
	return nil
}

// UnregisterPushToken removes a device push token
func (s *Store) UnregisterPushToken(ctx context.Context, token string) error {
	if !s.Enabled() {
		return ErrNoDatabase
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM device_push_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("unregister push token: %w", err)
	}
	return nil
}

// ListPushTokens returns all push tokens for a user, newest first.
func (s *Store) ListPushTokens(ctx context.Context, userID string) ([]DevicePushToken, error) {
	if !s.Enabled() {
		return nil, ErrNoDatabase
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, token, platform, created_at
		FROM device_push_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []DevicePushToken
	for rows.Next() {
		var t DevicePushToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
