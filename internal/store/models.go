package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	CreatedAt    time.Time
}

type Folder struct {
	ID        int64
	Name      string
	ParentID  *int64
	Author    string
	CreatedAt time.Time
}

// Blog holds a document as an ordered JSONB cell array. Cells is the
// canonical serialized form; the store never inspects cell content.
type Blog struct {
	ID        int64
	Title     string
	Cells     json.RawMessage
	Author    string
	FolderID  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
