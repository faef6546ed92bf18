package sqlstore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ys7zTS/sandbox/module/chat/model"
)

type userRow struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Nickname  string `gorm:"not null"`
	Age       int
	Gender    string `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userRow) TableName() string { return "users" }

// friendshipRow is stored in both directions.
type friendshipRow struct {
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`
	FriendID  int64 `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time
}

func (friendshipRow) TableName() string { return "friendships" }

type groupRow struct {
	GroupID   int64  `gorm:"primaryKey;autoIncrement:false"`
	GroupName string `gorm:"not null"`
	OwnerID   int64  `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (groupRow) TableName() string { return "chat_groups" }

type memberRow struct {
	GroupID  int64  `gorm:"primaryKey;autoIncrement:false"`
	UserID   int64  `gorm:"primaryKey;autoIncrement:false;index"`
	Nickname string `gorm:"not null"`
	Card     string
	Title    string
	Gender   string `gorm:"size:16"`
	Age      int
	Role     string `gorm:"size:16;not null"`
	JoinTime int64
}

func (memberRow) TableName() string { return "group_members" }

type messageRow struct {
	ID           uint64        `gorm:"primaryKey"`
	PartitionKey string        `gorm:"size:64;not null;uniqueIndex:ux_partition_seq"`
	Seq          int64         `gorm:"not null;uniqueIndex:ux_partition_seq"`
	Type         string        `gorm:"size:16;not null"`
	SenderID     int64         `gorm:"not null;index"`
	TargetID     int64         `gorm:"not null;index"`
	Content      model.Content `gorm:"type:text;not null"`
	Timestamp    int64         `gorm:"not null"`
	IsRevoked    bool          `gorm:"not null;default:false"`
}

func (messageRow) TableName() string { return "messages" }

// partitionSeqRow 会话级水位：last_seq 为已发出的最大序号，min_seq 为清理后的下界。
type partitionSeqRow struct {
	PartitionKey string `gorm:"primaryKey;size:64"`
	LastSeq      int64  `gorm:"not null"`
	MinSeq       int64  `gorm:"not null;default:0"`
}

func (partitionSeqRow) TableName() string { return "partition_seqs" }

type readStateRow struct {
	UserID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Type      string `gorm:"primaryKey;size:16"`
	TargetID  int64  `gorm:"primaryKey;autoIncrement:false;index"`
	LastSeq   int64  `gorm:"not null"`
	UpdatedAt time.Time
}

func (readStateRow) TableName() string { return "read_states" }

// Open opens (or creates) the SQLite database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(log.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sqlite handle")
	}
	// SQLite 单写者：所有写事务串行，同时保证 :memory: 只有一个连接。
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&userRow{},
		&friendshipRow{},
		&groupRow{},
		&memberRow{},
		&messageRow{},
		&partitionSeqRow{},
		&readStateRow{},
	)
	return errors.Wrap(err, "migrate")
}

// Stores bundles the three store implementations sharing one database.
type Stores struct {
	Conversations *ConversationStore
	Identities    *IdentityStore
	ReadStates    *ReadStateStore
}

func New(db *gorm.DB) *Stores {
	return &Stores{
		Conversations: NewConversationStore(db),
		Identities:    NewIdentityStore(db),
		ReadStates:    NewReadStateStore(db),
	}
}
