package auth

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier 使用 Firebase Admin SDK 校验 ID token。
type FirebaseVerifier struct {
	client idTokenVerifier
}

// NewFirebaseVerifier 通过服务账号凭证文件初始化 Firebase。
func NewFirebaseVerifier(ctx context.Context, credentialsFile, projectID string) (*FirebaseVerifier, error) {
	if credentialsFile == "" {
		return nil, fmt.Errorf("firebase credentials file is required")
	}

	var cfg *firebase.Config
	if projectID != "" {
		cfg = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, cfg, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase auth: %w", err)
	}

	return &FirebaseVerifier{client: client}, nil
}

// Verify 实现 Verifier。
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (user.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return user.Identity{}, unauthorized("missing token", nil)
	}

	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return user.Identity{}, unauthorized("invalid firebase id token", err)
	}
	if decoded.UID == "" {
		return user.Identity{}, unauthorized("token has no uid", nil)
	}

	return user.Identity{
		SubjectID:   decoded.UID,
		Email:       claimString(decoded.Claims, "email"),
		DisplayName: claimString(decoded.Claims, "name"),
		PhotoURL:    claimString(decoded.Claims, "picture"),
	}, nil
}

func claimString(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
