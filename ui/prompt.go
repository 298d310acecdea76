package ui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
)

var ErrInvalidNickname = errors.New("nickname must be one word of at most 32 characters")

func ValidateNickname(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 32 || strings.ContainsAny(name, " \t") {
		return ErrInvalidNickname
	}
	return nil
}

// PromptNickname asks for a nickname, suggesting fallback.
func PromptNickname(fallback string) (string, error) {
	name := fallback

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("pick a nickname").
				Description("peers use it to /connect to you").
				Placeholder(fallback).
				Validate(func(s string) error {
					if s == "" && fallback != "" {
						return nil
					}
					return ValidateNickname(s)
				}).
				Value(&name),
		),
	)

	if err := form.Run(); err != nil {
		return "", err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = fallback
	}
	return name, nil
}
