package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction. The transaction is rolled back on any
// error or panic and committed otherwise, so fn never has to release it.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, email)
		VALUES ($1, $2, $3)
	`, user.Username, user.PasswordHash, user.Email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, created_at
		FROM users
		WHERE username=$1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, email, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Folders

const folderColumns = `id, name, parent_id, author, created_at`

func scanFolder(row *sql.Row) (Folder, error) {
	var item Folder
	err := row.Scan(&item.ID, &item.Name, &item.ParentID, &item.Author, &item.CreatedAt)
	if err != nil {
		return Folder{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertFolder(ctx context.Context, name string, parentID *int64, author string) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO folders (name, parent_id, author)
		VALUES ($1, $2, $3)
		RETURNING `+folderColumns+`
	`, name, parentID, author)
	item, err := scanFolder(row)
	if err != nil {
		return Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID int64) (Folder, error) {
	return scanFolder(s.db.QueryRowContext(ctx, `
		SELECT `+folderColumns+` FROM folders WHERE id=$1
	`, folderID))
}

func (s *PostgresStore) RenameFolder(ctx context.Context, folderID int64, name string) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE folders SET name=$2 WHERE id=$1
		RETURNING `+folderColumns+`
	`, folderID, name)
	item, err := scanFolder(row)
	if err != nil {
		return Folder{}, err
	}
	return item, nil
}

// DeleteFolder removes a folder and, through the parent_id cascade, every
// descendant folder. Blogs filed under any removed folder are detached to
// root by the folder_id SET NULL constraint, never deleted. Returns how many
// folders were removed.
func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID int64) (int64, error) {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			WITH RECURSIVE subtree AS (
				SELECT id FROM folders WHERE id=$1
				UNION ALL
				SELECT f.id FROM folders f JOIN subtree st ON f.parent_id = st.id
			)
			SELECT COUNT(*) FROM subtree
		`, folderID).Scan(&removed)
		if err != nil {
			return fmt.Errorf("count folder subtree: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, folderID); err != nil {
			return fmt.Errorf("delete folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *PostgresStore) ListFolders(ctx context.Context, author string) ([]Folder, error) {
	return s.queryFolders(ctx, `
		SELECT `+folderColumns+` FROM folders
		WHERE author=$1
		ORDER BY created_at DESC
	`, author)
}

func (s *PostgresStore) ListChildFolders(ctx context.Context, folderID int64, author string) ([]Folder, error) {
	return s.queryFolders(ctx, `
		SELECT `+folderColumns+` FROM folders
		WHERE parent_id=$1 AND author=$2
		ORDER BY created_at DESC
	`, folderID, author)
}

func (s *PostgresStore) ListRootFolders(ctx context.Context, author string) ([]Folder, error) {
	return s.queryFolders(ctx, `
		SELECT `+folderColumns+` FROM folders
		WHERE parent_id IS NULL AND author=$1
		ORDER BY created_at DESC
	`, author)
}

func (s *PostgresStore) queryFolders(ctx context.Context, query string, args ...any) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var item Folder
		if err := rows.Scan(&item.ID, &item.Name, &item.ParentID, &item.Author, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

// Blogs

const blogColumns = `id, title, cells, author, folder_id, created_at, updated_at`

func scanBlog(row *sql.Row) (Blog, error) {
	var item Blog
	var cells []byte
	err := row.Scan(&item.ID, &item.Title, &cells, &item.Author, &item.FolderID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Blog{}, err
	}
	item.Cells = json.RawMessage(cells)
	return item, nil
}

func (s *PostgresStore) InsertBlog(ctx context.Context, title string, cells json.RawMessage, author string, folderID *int64) (Blog, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO blogs (title, cells, author, folder_id)
		VALUES ($1, $2::jsonb, $3, $4)
		RETURNING `+blogColumns+`
	`, title, []byte(cells), author, folderID)
	item, err := scanBlog(row)
	if err != nil {
		return Blog{}, fmt.Errorf("insert blog: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetBlog(ctx context.Context, blogID int64) (Blog, error) {
	return scanBlog(s.db.QueryRowContext(ctx, `
		SELECT `+blogColumns+` FROM blogs WHERE id=$1
	`, blogID))
}

// UpdateBlog replaces title, cells, and folder assignment in full. created_at
// is never touched; updated_at is refreshed.
func (s *PostgresStore) UpdateBlog(ctx context.Context, blogID int64, title string, cells json.RawMessage, folderID *int64) (Blog, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE blogs
		SET title=$2, cells=$3::jsonb, folder_id=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING `+blogColumns+`
	`, blogID, title, []byte(cells), folderID)
	item, err := scanBlog(row)
	if err != nil {
		return Blog{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateBlogFolder(ctx context.Context, blogID int64, folderID *int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE blogs SET folder_id=$2, updated_at=NOW() WHERE id=$1
	`, blogID, folderID)
	if err != nil {
		return fmt.Errorf("move blog: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBlog(ctx context.Context, blogID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blogs WHERE id=$1`, blogID)
	if err != nil {
		return fmt.Errorf("delete blog: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBlogs(ctx context.Context) ([]Blog, error) {
	return s.queryBlogs(ctx, `
		SELECT `+blogColumns+` FROM blogs
		ORDER BY created_at DESC
	`)
}

func (s *PostgresStore) ListBlogsByAuthor(ctx context.Context, author string) ([]Blog, error) {
	return s.queryBlogs(ctx, `
		SELECT `+blogColumns+` FROM blogs
		WHERE author=$1
		ORDER BY created_at DESC
	`, author)
}

func (s *PostgresStore) ListRootBlogs(ctx context.Context, author string) ([]Blog, error) {
	return s.queryBlogs(ctx, `
		SELECT `+blogColumns+` FROM blogs
		WHERE folder_id IS NULL AND author=$1
		ORDER BY created_at DESC
	`, author)
}

func (s *PostgresStore) ListFolderBlogs(ctx context.Context, folderID int64, author string) ([]Blog, error) {
	return s.queryBlogs(ctx, `
		SELECT `+blogColumns+` FROM blogs
		WHERE folder_id=$1 AND author=$2
		ORDER BY created_at DESC
	`, folderID, author)
}

func (s *PostgresStore) queryBlogs(ctx context.Context, query string, args ...any) ([]Blog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blogs: %w", err)
	}
	defer rows.Close()

	items := make([]Blog, 0)
	for rows.Next() {
		var item Blog
		var cells []byte
		if err := rows.Scan(&item.ID, &item.Title, &cells, &item.Author, &item.FolderID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan blog: %w", err)
		}
		item.Cells = json.RawMessage(cells)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blogs: %w", err)
	}
	return items, nil
}

// Token revocation (Postgres fallback when Redis is not configured)

func (s *PostgresStore) RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_hash, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash=$1 AND expires_at > NOW())
	`, tokenHash).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
