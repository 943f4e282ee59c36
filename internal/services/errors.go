package services

import (
	"errors"

	"turapp/internal/utils"
)

var (
	ErrProviderNotConfigured = errors.New("email provider not configured")
	ErrDeliveryFailed        = errors.New("email delivery failed")
	ErrSendThrottled         = errors.New("too many codes requested")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidGrant          = errors.New("invalid or expired reset grant")
	ErrInvalidEmail          = errors.New("invalid email")
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidChallenge      = errors.New("invalid or expired login challenge")
	ErrLoginRestartRequired  = errors.New("code spent, sign in again")
	ErrTwoFactorDisabled     = errors.New("two-factor authentication is not enabled")
	ErrWeakPassword          = utils.ErrWeakPassword
)
