package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/khushalkhule/chatprodigy-ai/internal/auth"
	"github.com/khushalkhule/chatprodigy-ai/internal/authpw"
	"github.com/khushalkhule/chatprodigy-ai/internal/config"
	"github.com/khushalkhule/chatprodigy-ai/internal/reply"
	"github.com/khushalkhule/chatprodigy-ai/internal/session"
	"github.com/khushalkhule/chatprodigy-ai/internal/store"
	"github.com/khushalkhule/chatprodigy-ai/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	Username     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// historyLimit caps transcript reads; rows beyond it are invisible.
const historyLimit = 50

var allowedResponseTypes = map[string]struct{}{
	"text":    {},
	"options": {},
	"email":   {},
	"phone":   {},
	"number":  {},
}

type CreateChatbotInput struct {
	Name           string
	Description    string
	WelcomeMessage string
	UserID         int64
}

type CreateStepInput struct {
	StepOrder    int
	Message      string
	ResponseType string
	Options      []string
	IsRequired   *bool
}

type dataStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	CreateUser(ctx context.Context, username, email, passwordHash string) (store.User, error)
	UpdateUserProfile(ctx context.Context, userID int64, patch store.UserPatch) (store.User, error)

	ListChatbotsByUser(ctx context.Context, userID int64) ([]store.Chatbot, error)
	GetChatbot(ctx context.Context, chatbotID int64) (store.Chatbot, error)
	InsertChatbot(ctx context.Context, userID int64, name, description, welcomeMessage string) (store.Chatbot, error)
	UpdateChatbot(ctx context.Context, chatbotID int64, patch store.ChatbotPatch) (store.Chatbot, error)
	DeleteChatbot(ctx context.Context, chatbotID int64) error

	ListSteps(ctx context.Context, chatbotID int64) ([]store.ChatbotStep, error)
	GetStepWithOwner(ctx context.Context, stepID int64) (store.StepWithOwner, error)
	MaxStepOrder(ctx context.Context, chatbotID int64) (int, error)
	InsertStep(ctx context.Context, step store.ChatbotStep) (store.ChatbotStep, error)
	UpdateStep(ctx context.Context, stepID int64, patch store.StepPatch) (store.ChatbotStep, error)
	DeleteStepAndResequence(ctx context.Context, stepID, chatbotID int64) error

	ListChatMessages(ctx context.Context, userID int64, limit int) ([]store.ChatMessage, error)
	InsertChatMessage(ctx context.Context, userID int64, message, response string) (store.ChatMessage, error)
	ClearChatMessages(ctx context.Context, userID int64) error

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (int64, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	replies   reply.Generator
}

func New(cfg config.Config, dataStore *store.PostgresStore, replies reply.Generator) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		passwords: authpw.NewService(dataStore),
		replies:   replies,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, replies reply.Generator) *Service {
	svc := New(cfg, dataStore, replies)
	svc.sessions = sessions
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Sessions ──

func (s *Service) Register(ctx context.Context, username, email, password string) (store.User, error) {
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if errors.Is(err, authpw.ErrEmailExists) {
		return store.User{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	}
	var invalid authpw.ValidationError
	if errors.As(err, &invalid) {
		return store.User{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", invalid.Error(), nil)
	}
	// Storage failures fall through to the generic 500 mapping.
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := uuid.NewString()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Username, user.Email, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken("rft") + util.NewToken("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── Profile ──

func (s *Service) UpdateProfile(ctx context.Context, session Session, targetUserID int64, patch store.UserPatch) (store.User, error) {
	if session.UserID != targetUserID {
		return store.User{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to update this profile", nil)
	}
	if patch.IsEmpty() {
		return store.User{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "No valid fields to update", nil)
	}
	if patch.Username != nil && strings.TrimSpace(*patch.Username) == "" {
		return store.User{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Username is required", nil)
	}
	if patch.Email != nil && strings.TrimSpace(*patch.Email) == "" {
		return store.User{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Email is required", nil)
	}

	user, err := s.store.UpdateUserProfile(ctx, targetUserID, patch)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	}
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

// ── Chatbots ──

// ownedChatbot loads a chatbot and enforces that the caller owns it.
// A missing chatbot is not-found; a foreign one is forbidden.
func (s *Service) ownedChatbot(ctx context.Context, session Session, chatbotID int64, verb string) (store.Chatbot, error) {
	bot, err := s.store.GetChatbot(ctx, chatbotID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Chatbot{}, domainError(http.StatusNotFound, "NOT_FOUND", "Chatbot not found", nil)
	}
	if err != nil {
		return store.Chatbot{}, err
	}
	if bot.UserID != session.UserID {
		return store.Chatbot{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to "+verb+" this chatbot", nil)
	}
	return bot, nil
}

func (s *Service) ListChatbots(ctx context.Context, session Session, targetUserID int64) ([]store.Chatbot, error) {
	if session.UserID != targetUserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to access these chatbots", nil)
	}
	return s.store.ListChatbotsByUser(ctx, targetUserID)
}

func (s *Service) GetChatbot(ctx context.Context, session Session, chatbotID int64) (store.Chatbot, error) {
	return s.ownedChatbot(ctx, session, chatbotID, "access")
}

func (s *Service) CreateChatbot(ctx context.Context, session Session, input CreateChatbotInput) (store.Chatbot, error) {
	// The target owner comes from the body; it must be the caller.
	if session.UserID != input.UserID {
		return store.Chatbot{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to create chatbots for other users", nil)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Chatbot{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Chatbot name is required", nil)
	}
	welcome := input.WelcomeMessage
	if welcome == "" {
		welcome = "Welcome to our chat!"
	}
	return s.store.InsertChatbot(ctx, input.UserID, name, input.Description, welcome)
}

func (s *Service) UpdateChatbot(ctx context.Context, session Session, chatbotID int64, patch store.ChatbotPatch) (store.Chatbot, error) {
	if _, err := s.ownedChatbot(ctx, session, chatbotID, "update"); err != nil {
		return store.Chatbot{}, err
	}
	if patch.IsEmpty() {
		return store.Chatbot{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "No valid fields to update", nil)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return store.Chatbot{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Chatbot name is required", nil)
	}
	return s.store.UpdateChatbot(ctx, chatbotID, patch)
}

func (s *Service) DeleteChatbot(ctx context.Context, session Session, chatbotID int64) error {
	if _, err := s.ownedChatbot(ctx, session, chatbotID, "delete"); err != nil {
		return err
	}
	// Steps go with the chatbot via the cascade constraint.
	return s.store.DeleteChatbot(ctx, chatbotID)
}

// ── Chatbot steps ──

func (s *Service) ownedStep(ctx context.Context, session Session, stepID int64, verb string) (store.StepWithOwner, error) {
	item, err := s.store.GetStepWithOwner(ctx, stepID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.StepWithOwner{}, domainError(http.StatusNotFound, "NOT_FOUND", "Step not found", nil)
	}
	if err != nil {
		return store.StepWithOwner{}, err
	}
	if item.OwnerID != session.UserID {
		return store.StepWithOwner{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to "+verb+" this step", nil)
	}
	return item, nil
}

func (s *Service) ListSteps(ctx context.Context, session Session, chatbotID int64) ([]store.ChatbotStep, error) {
	if _, err := s.ownedChatbot(ctx, session, chatbotID, "access steps of"); err != nil {
		return nil, err
	}
	return s.store.ListSteps(ctx, chatbotID)
}

func (s *Service) CreateStep(ctx context.Context, session Session, chatbotID int64, input CreateStepInput) (store.ChatbotStep, error) {
	if _, err := s.ownedChatbot(ctx, session, chatbotID, "create steps for"); err != nil {
		return store.ChatbotStep{}, err
	}
	if strings.TrimSpace(input.Message) == "" {
		return store.ChatbotStep{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Step message is required", nil)
	}
	responseType := input.ResponseType
	if responseType == "" {
		responseType = "text"
	}
	if _, ok := allowedResponseTypes[responseType]; !ok {
		return store.ChatbotStep{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid response type", nil)
	}

	order := input.StepOrder
	if order <= 0 {
		// Unguarded read-then-write: two concurrent creates against the
		// same chatbot can read the same max and collide on order.
		maxOrder, err := s.store.MaxStepOrder(ctx, chatbotID)
		if err != nil {
			return store.ChatbotStep{}, err
		}
		order = maxOrder + 1
	}

	isRequired := true
	if input.IsRequired != nil {
		isRequired = *input.IsRequired
	}

	return s.store.InsertStep(ctx, store.ChatbotStep{
		ChatbotID:    chatbotID,
		StepOrder:    order,
		Message:      input.Message,
		ResponseType: responseType,
		Options:      input.Options,
		IsRequired:   isRequired,
	})
}

func (s *Service) UpdateStep(ctx context.Context, session Session, stepID int64, patch store.StepPatch) (store.ChatbotStep, error) {
	if _, err := s.ownedStep(ctx, session, stepID, "update"); err != nil {
		return store.ChatbotStep{}, err
	}
	if patch.IsEmpty() {
		return store.ChatbotStep{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "No valid fields to update", nil)
	}
	if patch.Message != nil && strings.TrimSpace(*patch.Message) == "" {
		return store.ChatbotStep{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Step message is required", nil)
	}
	if patch.StepOrder != nil && *patch.StepOrder <= 0 {
		return store.ChatbotStep{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Step order must be a positive integer", nil)
	}
	if patch.ResponseType != nil {
		if _, ok := allowedResponseTypes[*patch.ResponseType]; !ok {
			return store.ChatbotStep{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid response type", nil)
		}
	}
	return s.store.UpdateStep(ctx, stepID, patch)
}

func (s *Service) DeleteStep(ctx context.Context, session Session, stepID int64) error {
	item, err := s.ownedStep(ctx, session, stepID, "delete")
	if err != nil {
		return err
	}
	return s.store.DeleteStepAndResequence(ctx, stepID, item.ChatbotID)
}

// ── Chat transcript ──

func (s *Service) ChatHistory(ctx context.Context, session Session, targetUserID int64) ([]store.ChatMessage, error) {
	if session.UserID != targetUserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to access this chat history", nil)
	}
	return s.store.ListChatMessages(ctx, targetUserID, historyLimit)
}

func (s *Service) SendChatMessage(ctx context.Context, session Session, targetUserID int64, message string) (store.ChatMessage, error) {
	if session.UserID != targetUserID {
		return store.ChatMessage{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to send messages for other users", nil)
	}
	if strings.TrimSpace(message) == "" {
		return store.ChatMessage{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Message is required", nil)
	}
	response := s.replies.Reply(message)
	return s.store.InsertChatMessage(ctx, targetUserID, message, response)
}

func (s *Service) ClearChatHistory(ctx context.Context, session Session, targetUserID int64) error {
	if session.UserID != targetUserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Not authorized to clear this chat history", nil)
	}
	return s.store.ClearChatMessages(ctx, targetUserID)
}
