package app

import (
	"federation-gateway/internal/auth"
	"federation-gateway/internal/crypto"
)

func (app *App) initializeEncryption() error {
	if app.Config.EncryptionKey == "" {
		app.Logger.Info("Secret encryption disabled (no encryption key provided)")
		return nil
	}

	box, err := crypto.NewSecretBox(app.Config.EncryptionKey)
	if err != nil {
		return err
	}
	app.SecretBox = box
	app.Logger.Info("Secret encryption enabled")
	return nil
}

func (app *App) initializeAuth() error {
	if !app.Config.AdminEnabled() {
		app.Logger.Info("Admin API disabled (no JWT secret provided)")
		return nil
	}

	tokens, err := auth.NewTokenService(app.Config.JWTSecret, app.Config.JWTIssuer, app.Config.JWTExpiry)
	if err != nil {
		return err
	}
	app.Tokens = tokens
	return nil
}
