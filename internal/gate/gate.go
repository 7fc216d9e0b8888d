package gate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// Gate verifies guardian identity against the stored session and
// issues session-scoped capability tokens.
//
// The one-time code survives successful verification: a guardian who
// reloads mid-transport can re-verify with the same code. Only a
// subsequent IssueGuardianLink replaces it.
type Gate struct {
	store      interfaces.SessionStore
	notifier   interfaces.Notifier
	logger     *zap.Logger
	signingKey []byte
	tokenTTL   time.Duration
	linkBase   string
}

// VerifyResult is everything a late-joining guardian needs to
// reconstruct state, not just future events.
type VerifyResult struct {
	Token        string               `json:"token"`
	Session      *types.Session       `json:"session"`
	HealthPoints []*types.HealthPoint `json:"healthPoints"`
	Chat         []*types.ChatMessage `json:"chat"`
}

// NewGate creates an access gate.
func NewGate(store interfaces.SessionStore, notifier interfaces.Notifier, signingKey []byte, tokenTTL time.Duration, linkBase string, logger *zap.Logger) *Gate {
	if tokenTTL <= 0 {
		tokenTTL = 4 * time.Hour
	}
	return &Gate{
		store:      store,
		notifier:   notifier,
		logger:     logger,
		signingKey: signingKey,
		tokenTTL:   tokenTTL,
		linkBase:   linkBase,
	}
}

// IssueGuardianLink generates a fresh 6-digit code for the session,
// replacing any prior unconsumed code, and returns the guardian-facing
// URL. The SMS is fire-and-forget; its failure never fails the call.
func (g *Gate) IssueGuardianLink(ctx context.Context, sessionID string) (code, link string, err error) {
	session, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return "", "", ErrSessionNotFound
		}
		return "", "", err
	}

	code, err = generateOTP()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate verification code: %w", err)
	}

	if err := g.store.SetGuardianOTP(ctx, sessionID, code); err != nil {
		return "", "", fmt.Errorf("failed to persist verification code: %w", err)
	}

	link = fmt.Sprintf("%s/?sessionId=%s", g.linkBase, sessionID)
	body := fmt.Sprintf("Ambulance emergency alert! Access patient monitoring: %s\nYour OTP: %s.", link, code)

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := g.notifier.Send(sendCtx, session.GuardianContact, body); err != nil {
			g.logger.Warn("guardian link notification failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()

	g.logger.Info("guardian link issued", zap.String("session_id", sessionID))
	return code, link, nil
}

// VerifyGuardian checks NIC and code against the stored session by
// exact string comparison, marks the session verified (idempotent),
// records patient gender when supplied, and returns a capability token
// plus the full accumulated history.
func (g *Gate) VerifyGuardian(ctx context.Context, sessionID, nic, code string, gender *int) (*VerifyResult, error) {
	session, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	if session.GuardianNIC == "" || session.GuardianNIC != nic {
		return nil, ErrUnauthorized
	}
	if session.GuardianOTP == nil || *session.GuardianOTP != code {
		return nil, ErrUnauthorized
	}

	if err := g.store.MarkGuardianVerified(ctx, sessionID, gender); err != nil {
		return nil, fmt.Errorf("failed to mark guardian verified: %w", err)
	}
	session.GuardianVerified = true
	if gender != nil {
		session.PatientGender = gender
	}

	token, err := g.issueToken(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue capability token: %w", err)
	}

	healthPoints, err := g.store.GetHealthHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load health history: %w", err)
	}
	chat, err := g.store.GetChatHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	g.logger.Info("guardian verified", zap.String("session_id", sessionID))
	return &VerifyResult{
		Token:        token,
		Session:      session,
		HealthPoints: healthPoints,
		Chat:         chat,
	}, nil
}

// ParseToken returns the session ID a capability token authorizes. The
// token is opaque to every other component.
func (g *Gate) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.signingKey, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sessionID, ok := claims["sessionId"].(string)
	if !ok || sessionID == "" {
		return "", ErrInvalidToken
	}

	return sessionID, nil
}

func (g *Gate) issueToken(sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sessionId": sessionID,
		"iat":       time.Now().Unix(),
		"exp":       time.Now().Add(g.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.signingKey)
}

// generateOTP draws a 6-digit code uniformly from 100000-999999.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
