package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Exercises the parent_id ON DELETE CASCADE and folder_id ON DELETE SET NULL
// constraints plus the subtree count in DeleteFolder against a real database.
func TestDeleteFolderCascadesAndDetachesBlogsPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("INKWELL_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("INKWELL_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db)
	cells := json.RawMessage(`[{"id":1,"type":"text","content":"hello"}]`)

	root, err := s.InsertFolder(ctx, "Root", nil, "alice")
	if err != nil {
		t.Fatalf("insert root folder: %v", err)
	}
	child, err := s.InsertFolder(ctx, "Child", &root.ID, "alice")
	if err != nil {
		t.Fatalf("insert child folder: %v", err)
	}
	grandchild, err := s.InsertFolder(ctx, "Grandchild", &child.ID, "alice")
	if err != nil {
		t.Fatalf("insert grandchild folder: %v", err)
	}
	keep, err := s.InsertFolder(ctx, "Keep", nil, "alice")
	if err != nil {
		t.Fatalf("insert unrelated folder: %v", err)
	}

	inChild, err := s.InsertBlog(ctx, "In child", cells, "alice", &child.ID)
	if err != nil {
		t.Fatalf("insert blog in child: %v", err)
	}
	inGrandchild, err := s.InsertBlog(ctx, "In grandchild", cells, "alice", &grandchild.ID)
	if err != nil {
		t.Fatalf("insert blog in grandchild: %v", err)
	}
	inKeep, err := s.InsertBlog(ctx, "In keep", cells, "alice", &keep.ID)
	if err != nil {
		t.Fatalf("insert blog in unrelated folder: %v", err)
	}

	removed, err := s.DeleteFolder(ctx, root.ID)
	if err != nil {
		t.Fatalf("delete root folder: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 folders removed, got %d", removed)
	}

	for _, folderID := range []int64{root.ID, child.ID, grandchild.ID} {
		if _, err := s.GetFolder(ctx, folderID); !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("expected folder %d removed, got %v", folderID, err)
		}
	}
	if _, err := s.GetFolder(ctx, keep.ID); err != nil {
		t.Fatalf("unrelated folder must survive: %v", err)
	}

	for _, blogID := range []int64{inChild.ID, inGrandchild.ID} {
		blog, err := s.GetBlog(ctx, blogID)
		if err != nil {
			t.Fatalf("blog %d must survive folder deletion: %v", blogID, err)
		}
		if blog.FolderID != nil {
			t.Fatalf("expected blog %d detached to root, got folder %d", blogID, *blog.FolderID)
		}
	}

	kept, err := s.GetBlog(ctx, inKeep.ID)
	if err != nil {
		t.Fatalf("get unrelated blog: %v", err)
	}
	if kept.FolderID == nil || *kept.FolderID != keep.ID {
		t.Fatalf("unrelated blog must keep its folder, got %v", kept.FolderID)
	}
}
