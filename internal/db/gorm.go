package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/Pad-i/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

type conversationRow struct {
	ID       string       `gorm:"primaryKey;size:36"`
	Owner    string       `gorm:"size:255;not null;index:idx_conversations_owner,priority:1"`
	Title    string       `gorm:"size:255;not null"`
	Created  int64        `gorm:"column:created_at;not null"`
	Updated  int64        `gorm:"column:updated_at;not null;index:idx_conversations_owner,priority:2,sort:desc"`
	Messages []messageRow `gorm:"foreignKey:ConversationID;references:ID;constraint:OnDelete:CASCADE"`
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	Seq            int64  `gorm:"primaryKey;autoIncrement"`
	ID             string `gorm:"size:36;not null;uniqueIndex"`
	ConversationID string `gorm:"size:36;not null;index:idx_messages_conversation,priority:1"`
	Role           string `gorm:"size:16;not null"`
	Content        string `gorm:"type:text;not null"`
	Created        int64  `gorm:"column:created_at;not null;index:idx_messages_conversation,priority:2"`
}

func (messageRow) TableName() string { return "messages" }

// Gorm is a record store backed by any gorm dialect. Production uses Postgres
// through OpenPostgres.
type Gorm struct {
	db   *gorm.DB
	opts options
}

// NewGorm wraps an already opened gorm handle.
func NewGorm(db *gorm.DB, opts ...Option) (*Gorm, error) {
	if db == nil {
		return nil, errors.New("db: gorm handle must not be nil")
	}
	return &Gorm{db: db, opts: applyOptions(opts)}, nil
}

// OpenPostgres connects to Postgres, applies the embedded goose migrations and
// returns a ready store. Connection attempts are retried while the server
// comes up.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger, opts ...Option) (*Gorm, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open postgres: %w", err)
	}

	for attempt := 1; attempt <= 10; attempt++ {
		if err = sqlDB.PingContext(ctx); err == nil {
			break
		}
		logger.Warn("waiting for postgres", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			sqlDB.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: ping postgres: %w", err)
	}

	if err := migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: gorm open: %w", err)
	}
	return NewGorm(gdb, opts...)
}

func migrate(ctx context.Context, sqlDB *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetTableName("goose_migrations")
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("db: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("db: goose up: %w", err)
	}
	return nil
}

// AutoMigrate creates the tables from the row structs. Used for dialects that
// do not run the goose migrations, such as SQLite in tests.
func (g *Gorm) AutoMigrate() error {
	if err := g.db.AutoMigrate(&conversationRow{}, &messageRow{}); err != nil {
		return fmt.Errorf("db: auto migrate: %w", err)
	}
	return nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) CreateConversation(ctx context.Context, owner, title string) (models.Conversation, error) {
	now := toNanos(g.opts.now())
	row := conversationRow{
		ID:      g.opts.newID(),
		Owner:   owner,
		Title:   title,
		Created: now,
		Updated: now,
	}
	if err := g.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return models.Conversation{}, fmt.Errorf("db: create conversation: %w", err)
	}
	return row.toModel(), nil
}

func (g *Gorm) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var row conversationRow
	err := g.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Conversation{}, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("db: get conversation: %w", err)
	}
	return row.toModel(), nil
}

func (g *Gorm) ListConversations(ctx context.Context, owner string) ([]models.Conversation, error) {
	var rows []conversationRow
	err := g.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("updated_at DESC").Order("created_at DESC").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("db: list conversations: %w", err)
	}

	conversations := make([]models.Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, row.toModel())
	}
	return conversations, nil
}

func (g *Gorm) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return g.updateConversation(ctx, id, map[string]any{"title": title})
}

func (g *Gorm) TouchConversation(ctx context.Context, id string) error {
	return g.updateConversation(ctx, id, map[string]any{})
}

func (g *Gorm) updateConversation(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = gorm.Expr("GREATEST(updated_at, ?)", toNanos(g.opts.now()))
	if g.db.Dialector.Name() == "sqlite" {
		fields["updated_at"] = gorm.Expr("MAX(updated_at, ?)", toNanos(g.opts.now()))
	}

	res := g.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("db: update conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	return nil
}

func (g *Gorm) DeleteConversation(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("db: delete messages: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&conversationRow{})
		if res.Error != nil {
			return fmt.Errorf("db: delete conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation %s", ErrNotFound, id)
		}
		return nil
	})
}

func (g *Gorm) AppendMessage(ctx context.Context, convID string, role models.Role, content string) (models.Message, error) {
	if !role.Valid() {
		return models.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	var row messageRow
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&conversationRow{}).Select("id").Where("id = ?", convID)
		if tx.Dialector.Name() == "postgres" {
			// Holds off a concurrent delete until this insert commits.
			q = q.Clauses(clause.Locking{Strength: "SHARE"})
		}
		var conv conversationRow
		if err := q.Take(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: conversation %s", ErrNotFound, convID)
			}
			return err
		}

		var last int64
		if err := tx.Model(&messageRow{}).
			Where("conversation_id = ?", convID).
			Select("COALESCE(MAX(created_at), 0)").
			Scan(&last).Error; err != nil {
			return err
		}

		row = messageRow{
			ID:             g.opts.newID(),
			ConversationID: convID,
			Role:           string(role),
			Content:        content,
			Created:        nextStamp(g.opts.now(), last),
		}
		return tx.Create(&row).Error
	})
	if errors.Is(err, ErrNotFound) {
		return models.Message{}, err
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("db: append message: %w", err)
	}
	return row.toModel(), nil
}

func (g *Gorm) ListMessages(ctx context.Context, convID string) ([]models.Message, error) {
	var rows []messageRow
	err := g.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at ASC").Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("db: list messages: %w", err)
	}

	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toModel())
	}
	return messages, nil
}

func (g *Gorm) DeleteMessages(ctx context.Context, convID string) error {
	if err := g.db.WithContext(ctx).Where("conversation_id = ?", convID).Delete(&messageRow{}).Error; err != nil {
		return fmt.Errorf("db: delete messages: %w", err)
	}
	return nil
}

func (g *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r conversationRow) toModel() models.Conversation {
	return models.Conversation{
		ID:        r.ID,
		Owner:     r.Owner,
		Title:     r.Title,
		CreatedAt: fromNanos(r.Created),
		UpdatedAt: fromNanos(r.Updated),
	}
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:        r.ID,
		ConvID:    r.ConversationID,
		Role:      models.Role(r.Role),
		Content:   r.Content,
		CreatedAt: fromNanos(r.Created),
	}
}
