package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

const userColumns = `id, username, email, password_hash, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns, username, email, passwordHash))
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID int64, patch UserPatch) (User, error) {
	sets := newUpdateBuilder()
	if patch.Username != nil {
		sets.add("username", *patch.Username)
	}
	if patch.Email != nil {
		sets.add("email", *patch.Email)
	}
	query, args := sets.query("users", userColumns, userID)
	user, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, err
	}
	if err != nil {
		return User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// ── Chatbots ──

const chatbotColumns = `id, user_id, name, description, welcome_message, created_at, updated_at`

func scanChatbot(row *sql.Row) (Chatbot, error) {
	var bot Chatbot
	err := row.Scan(&bot.ID, &bot.UserID, &bot.Name, &bot.Description, &bot.WelcomeMessage, &bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return Chatbot{}, err
	}
	return bot, nil
}

func (s *PostgresStore) ListChatbotsByUser(ctx context.Context, userID int64) ([]Chatbot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatbotColumns+`
		FROM chatbots
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chatbots: %w", err)
	}
	defer rows.Close()

	items := make([]Chatbot, 0)
	for rows.Next() {
		var bot Chatbot
		if err := rows.Scan(&bot.ID, &bot.UserID, &bot.Name, &bot.Description, &bot.WelcomeMessage, &bot.CreatedAt, &bot.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chatbot: %w", err)
		}
		items = append(items, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chatbots: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetChatbot(ctx context.Context, chatbotID int64) (Chatbot, error) {
	return scanChatbot(s.db.QueryRowContext(ctx, `SELECT `+chatbotColumns+` FROM chatbots WHERE id=$1`, chatbotID))
}

func (s *PostgresStore) InsertChatbot(ctx context.Context, userID int64, name, description, welcomeMessage string) (Chatbot, error) {
	bot, err := scanChatbot(s.db.QueryRowContext(ctx, `
		INSERT INTO chatbots (user_id, name, description, welcome_message)
		VALUES ($1, $2, $3, $4)
		RETURNING `+chatbotColumns, userID, name, description, welcomeMessage))
	if err != nil {
		return Chatbot{}, fmt.Errorf("insert chatbot: %w", err)
	}
	return bot, nil
}

func (s *PostgresStore) UpdateChatbot(ctx context.Context, chatbotID int64, patch ChatbotPatch) (Chatbot, error) {
	sets := newUpdateBuilder()
	if patch.Name != nil {
		sets.add("name", *patch.Name)
	}
	if patch.Description != nil {
		sets.add("description", *patch.Description)
	}
	if patch.WelcomeMessage != nil {
		sets.add("welcome_message", *patch.WelcomeMessage)
	}
	query, args := sets.query("chatbots", chatbotColumns, chatbotID)
	bot, err := scanChatbot(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Chatbot{}, err
	}
	if err != nil {
		return Chatbot{}, fmt.Errorf("update chatbot: %w", err)
	}
	return bot, nil
}

// DeleteChatbot removes the chatbot; its steps go with it via the
// ON DELETE CASCADE constraint.
func (s *PostgresStore) DeleteChatbot(ctx context.Context, chatbotID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chatbots WHERE id=$1`, chatbotID); err != nil {
		return fmt.Errorf("delete chatbot: %w", err)
	}
	return nil
}

// ── Chatbot steps ──

const stepColumns = `id, chatbot_id, step_order, message, response_type, options, is_required, created_at, updated_at`

func scanStep(row *sql.Row) (ChatbotStep, error) {
	var step ChatbotStep
	var encoded *string
	err := row.Scan(&step.ID, &step.ChatbotID, &step.StepOrder, &step.Message, &step.ResponseType, &encoded, &step.IsRequired, &step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		return ChatbotStep{}, err
	}
	step.Options = decodeOptions(encoded)
	return step, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, chatbotID int64) ([]ChatbotStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM chatbot_steps
		WHERE chatbot_id=$1
		ORDER BY step_order ASC
	`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	items := make([]ChatbotStep, 0)
	for rows.Next() {
		var step ChatbotStep
		var encoded *string
		if err := rows.Scan(&step.ID, &step.ChatbotID, &step.StepOrder, &step.Message, &step.ResponseType, &encoded, &step.IsRequired, &step.CreatedAt, &step.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Options = decodeOptions(encoded)
		items = append(items, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return items, nil
}

// GetStepWithOwner fetches a step and the owning user of its parent
// chatbot in a single join, so ownership can be decided before any write.
func (s *PostgresStore) GetStepWithOwner(ctx context.Context, stepID int64) (StepWithOwner, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.chatbot_id, s.step_order, s.message, s.response_type, s.options, s.is_required, s.created_at, s.updated_at, c.user_id
		FROM chatbot_steps s
		JOIN chatbots c ON c.id = s.chatbot_id
		WHERE s.id=$1
	`, stepID)

	var item StepWithOwner
	var encoded *string
	err := row.Scan(&item.ID, &item.ChatbotID, &item.StepOrder, &item.Message, &item.ResponseType, &encoded, &item.IsRequired, &item.CreatedAt, &item.UpdatedAt, &item.OwnerID)
	if err != nil {
		return StepWithOwner{}, err
	}
	item.Options = decodeOptions(encoded)
	return item, nil
}

// MaxStepOrder returns the highest step_order in the chatbot, 0 when it
// has no steps. Callers computing next-order from this run an unguarded
// read-then-write; concurrent creates against the same chatbot can race.
func (s *PostgresStore) MaxStepOrder(ctx context.Context, chatbotID int64) (int, error) {
	var maxOrder int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(step_order), 0) FROM chatbot_steps WHERE chatbot_id=$1
	`, chatbotID).Scan(&maxOrder)
	if err != nil {
		return 0, fmt.Errorf("max step order: %w", err)
	}
	return maxOrder, nil
}

func (s *PostgresStore) InsertStep(ctx context.Context, step ChatbotStep) (ChatbotStep, error) {
	encoded, err := encodeOptions(step.Options)
	if err != nil {
		return ChatbotStep{}, fmt.Errorf("encode options: %w", err)
	}
	created, err := scanStep(s.db.QueryRowContext(ctx, `
		INSERT INTO chatbot_steps (chatbot_id, step_order, message, response_type, options, is_required)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+stepColumns,
		step.ChatbotID, step.StepOrder, step.Message, step.ResponseType, encoded, step.IsRequired))
	if err != nil {
		return ChatbotStep{}, fmt.Errorf("insert step: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateStep(ctx context.Context, stepID int64, patch StepPatch) (ChatbotStep, error) {
	sets := newUpdateBuilder()
	if patch.StepOrder != nil {
		sets.add("step_order", *patch.StepOrder)
	}
	if patch.Message != nil {
		sets.add("message", *patch.Message)
	}
	if patch.ResponseType != nil {
		sets.add("response_type", *patch.ResponseType)
	}
	if patch.Options != nil {
		encoded, err := encodeOptions(*patch.Options)
		if err != nil {
			return ChatbotStep{}, fmt.Errorf("encode options: %w", err)
		}
		sets.add("options", encoded)
	}
	if patch.IsRequired != nil {
		sets.add("is_required", *patch.IsRequired)
	}
	query, args := sets.query("chatbot_steps", stepColumns, stepID)
	step, err := scanStep(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return ChatbotStep{}, err
	}
	if err != nil {
		return ChatbotStep{}, fmt.Errorf("update step: %w", err)
	}
	return step, nil
}

// DeleteStepAndResequence removes one step and renumbers the chatbot's
// remaining steps to a dense 1..N in the same transaction, ordered by
// current step_order with ties broken by id (creation order). Readers
// never observe the post-delete gap.
func (s *PostgresStore) DeleteStepAndResequence(ctx context.Context, stepID, chatbotID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete step tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chatbot_steps WHERE id=$1`, stepID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete step: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		WITH ranked AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY step_order ASC, id ASC) AS position
			FROM chatbot_steps
			WHERE chatbot_id=$1
		)
		UPDATE chatbot_steps AS s
		SET step_order = ranked.position
		FROM ranked
		WHERE s.id = ranked.id AND s.step_order <> ranked.position
	`, chatbotID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("resequence steps: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete step tx: %w", err)
	}
	return nil
}

// ── Chat messages ──

func (s *PostgresStore) ListChatMessages(ctx context.Context, userID int64, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, response, created_at
		FROM chat_messages
		WHERE user_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Message, &msg.Response, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertChatMessage(ctx context.Context, userID int64, message, response string) (ChatMessage, error) {
	var msg ChatMessage
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (user_id, message, response)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, message, response, created_at
	`, userID, message, response).Scan(&msg.ID, &msg.UserID, &msg.Message, &msg.Response, &msg.CreatedAt)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ClearChatMessages(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("clear chat messages: %w", err)
	}
	return nil
}

// ── Refresh sessions (Postgres fallback when Redis is not configured) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash=$1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ── Patch helper ──

// updateBuilder assembles parameterized SET clauses from a fixed column
// whitelist. Column names are literals above, never request input.
type updateBuilder struct {
	sets []string
	args []any
}

func newUpdateBuilder() *updateBuilder {
	return &updateBuilder{}
}

func (b *updateBuilder) add(column string, value any) {
	b.args = append(b.args, value)
	b.sets = append(b.sets, fmt.Sprintf("%s=$%d", column, len(b.args)))
}

func (b *updateBuilder) query(table, returning string, id int64) (string, []any) {
	b.sets = append(b.sets, "updated_at=NOW()")
	b.args = append(b.args, id)
	query := fmt.Sprintf(
		`UPDATE %s SET %s WHERE id=$%d RETURNING %s`,
		table, strings.Join(b.sets, ", "), len(b.args), returning,
	)
	return query, b.args
}
