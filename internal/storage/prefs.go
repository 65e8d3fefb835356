package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var ErrUnknownTheme = errors.New("unknown theme")

// Preference keys. They are never touched by logout.
const (
	PrefsPrefix           = "prefs."
	KeyTheme              = "prefs.theme"
	KeyHighContrast       = "prefs.highContrast"
	KeyInstallPromptShown = "prefs.installPromptShown"
)

type Preferences struct {
	Theme              string `json:"theme"`
	HighContrast       bool   `json:"high_contrast"`
	InstallPromptShown bool   `json:"install_prompt_shown"`
}

func defaultPreferences() Preferences {
	return Preferences{Theme: "light"}
}

// Prefs is the only writer of the prefs namespace.
type Prefs struct {
	store *Store
}

func NewPrefs(store *Store) *Prefs {
	return &Prefs{store: store}
}

func (p *Prefs) Load(ctx context.Context) (Preferences, error) {
	out := defaultPreferences()
	kv, err := p.store.All(ctx, PrefsPrefix)
	if err != nil {
		return out, err
	}
	if v, ok := kv[KeyTheme]; ok && v != "" {
		out.Theme = v
	}
	out.HighContrast, _ = strconv.ParseBool(kv[KeyHighContrast])
	out.InstallPromptShown, _ = strconv.ParseBool(kv[KeyInstallPromptShown])
	return out, nil
}

func (p *Prefs) Save(ctx context.Context, prefs Preferences) error {
	if prefs.Theme != "light" && prefs.Theme != "dark" {
		return fmt.Errorf("%w %q", ErrUnknownTheme, prefs.Theme)
	}
	return p.store.SetMany(ctx, map[string]string{
		KeyTheme:              prefs.Theme,
		KeyHighContrast:       strconv.FormatBool(prefs.HighContrast),
		KeyInstallPromptShown: strconv.FormatBool(prefs.InstallPromptShown),
	})
}
