package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Preferences are the user-tunable scalars the UI persists across sessions.
type Preferences struct {
	SpeechRate   float64 `json:"speech_rate"`
	SpeechVolume float64 `json:"speech_volume"`
	Voice        string  `json:"voice"`
	Avatar       string  `json:"avatar"`
}

// DefaultPreferences returns the out-of-the-box preference values.
func DefaultPreferences(defaultVoice string) Preferences {
	return Preferences{
		SpeechRate:   1.0,
		SpeechVolume: 1.0,
		Voice:        defaultVoice,
		Avatar:       "Basil",
	}
}

const (
	prefSpeechRate   = "speech_rate"
	prefSpeechVolume = "speech_volume"
	prefVoice        = "voice"
	prefAvatar       = "avatar"
)

// PrefsRepo persists user preference scalars in the local database.
type PrefsRepo struct {
	db *DB
}

// NewPrefsRepo creates a PrefsRepo backed by db.
func NewPrefsRepo(db *DB) *PrefsRepo {
	return &PrefsRepo{db: db}
}

// Save stores all preference scalars.
func (r *PrefsRepo) Save(ctx context.Context, prefs Preferences) error {
	values := map[string]string{
		prefSpeechRate:   strconv.FormatFloat(prefs.SpeechRate, 'f', -1, 64),
		prefSpeechVolume: strconv.FormatFloat(prefs.SpeechVolume, 'f', -1, 64),
		prefVoice:        prefs.Voice,
		prefAvatar:       prefs.Avatar,
	}

	const query = `INSERT OR REPLACE INTO preferences (name, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)`
	for name, value := range values {
		if _, err := r.db.Writer.ExecContext(ctx, query, name, value); err != nil {
			return fmt.Errorf("save preference %q: %w", name, err)
		}
	}
	return nil
}

// Load fetches the stored preferences, filling unset values from defaults.
func (r *PrefsRepo) Load(ctx context.Context, defaults Preferences) (Preferences, error) {
	prefs := defaults

	if v, ok, err := r.get(ctx, prefSpeechRate); err != nil {
		return prefs, err
	} else if ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			prefs.SpeechRate = f
		}
	}

	if v, ok, err := r.get(ctx, prefSpeechVolume); err != nil {
		return prefs, err
	} else if ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			prefs.SpeechVolume = f
		}
	}

	if v, ok, err := r.get(ctx, prefVoice); err != nil {
		return prefs, err
	} else if ok {
		prefs.Voice = v
	}

	if v, ok, err := r.get(ctx, prefAvatar); err != nil {
		return prefs, err
	} else if ok {
		prefs.Avatar = v
	}

	return prefs, nil
}

func (r *PrefsRepo) get(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := r.db.Reader.QueryRowContext(ctx, `SELECT value FROM preferences WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load preference %q: %w", name, err)
	}
	return value, true, nil
}
