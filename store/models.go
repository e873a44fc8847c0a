package store

import (
	"time"

	"github.com/uptrace/bun"
)

// Directory tables. Groups and users share a shape but live in
// independent keyspaces.
const (
	groupTable = "group_chats"
	userTable  = "user_chats"
)

// A recipient is a row in one of the directory tables. The table is
// bound per query, so one model serves both.
type recipient struct {
	bun.BaseModel `bun:"table:recipients,alias:recipient"`

	ID          string    `bun:"id,pk"`
	DisplayName string    `bun:"display_name,notnull"`
	JoinedAt    time.Time `bun:"joined_at,notnull"`
	Active      bool      `bun:"active,notnull"`
}
