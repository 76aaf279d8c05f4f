package models

import (
	"fmt"
	"net/url"
	"time"
)

// AvatarURL derives the deterministic avatar reference for a seed string,
// usually the user's email. The same seed always yields the same avatar.
func AvatarURL(seed string) string {
	return fmt.Sprintf("https://api.dicebear.com/9.x/avataaars/svg?seed=%s", url.QueryEscape(seed))
}

type Resolution string

const (
	Resolution1K Resolution = "1K"
	Resolution2K Resolution = "2K"
	Resolution4K Resolution = "4K"
)

// Valid reports whether the resolution is one of the output sizes the
// remote generation service accepts.
func (r Resolution) Valid() bool {
	switch r {
	case Resolution1K, Resolution2K, Resolution4K:
		return true
	}
	return false
}

type GenerationState string

const (
	StateIdle       GenerationState = "IDLE"
	StateGenerating GenerationState = "GENERATING"
	StateSuccess    GenerationState = "SUCCESS"
	StateError      GenerationState = "ERROR"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar"`
	Balance   int       `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductConfig is the immutable snapshot of user input for a single
// generation attempt.
type ProductConfig struct {
	Region     string     `json:"region"`
	Scenario   string     `json:"scenario"`
	Resolution Resolution `json:"resolution"`
}

// GenerationResult holds the composited image as a displayable data URI.
// It exists only for the duration of one orchestrator cycle and is
// discarded on reset.
type GenerationResult struct {
	ImageData string `json:"image_data"`
}
