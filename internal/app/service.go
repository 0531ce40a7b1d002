package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/config"
	"inkwell/api/internal/identity"
	"inkwell/api/internal/store"
)

type dataStore interface {
	GetFolder(context.Context, int64) (store.Folder, error)
	InsertFolder(ctx context.Context, name string, parentID *int64, author string) (store.Folder, error)
	RenameFolder(ctx context.Context, folderID int64, name string) (store.Folder, error)
	DeleteFolder(ctx context.Context, folderID int64) (int64, error)
	ListFolders(ctx context.Context, author string) ([]store.Folder, error)
	ListChildFolders(ctx context.Context, folderID int64, author string) ([]store.Folder, error)
	ListRootFolders(ctx context.Context, author string) ([]store.Folder, error)

	GetBlog(context.Context, int64) (store.Blog, error)
	InsertBlog(ctx context.Context, title string, cells json.RawMessage, author string, folderID *int64) (store.Blog, error)
	UpdateBlog(ctx context.Context, blogID int64, title string, cells json.RawMessage, folderID *int64) (store.Blog, error)
	UpdateBlogFolder(ctx context.Context, blogID int64, folderID *int64) error
	DeleteBlog(ctx context.Context, blogID int64) error
	ListBlogs(ctx context.Context) ([]store.Blog, error)
	ListBlogsByAuthor(ctx context.Context, author string) ([]store.Blog, error)
	ListRootBlogs(ctx context.Context, author string) ([]store.Blog, error)
	ListFolderBlogs(ctx context.Context, folderID int64, author string) ([]store.Blog, error)

	Ping(ctx context.Context) error
}

// tokenRevoker is satisfied by both the Redis store and the Postgres
// fallback.
type tokenRevoker interface {
	RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error)
}

type Service struct {
	cfg     config.Config
	store   dataStore
	users   *identity.Service
	revoker tokenRevoker
}

func New(cfg config.Config, dataStore dataStore, users *identity.Service, revoker tokenRevoker) *Service {
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		users:   users,
		revoker: revoker,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Identity

func (s *Service) Register(ctx context.Context, username, password, email string) (map[string]any, error) {
	user, err := s.users.Register(ctx, identity.RegisterRequest{
		Username: username,
		Password: password,
		Email:    email,
	})
	if err != nil {
		return nil, err
	}

	token, err := s.issueToken(user.Username)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message": "User registered successfully",
		"token":   token,
	}, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (map[string]any, error) {
	user, err := s.users.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	token, err := s.issueToken(user.Username)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message": "Login successful",
		"token":   token,
	}, nil
}

// Logout revokes the presented token until its natural expiry. Invalid or
// already-expired tokens are ignored; logout never fails the caller.
func (s *Service) Logout(ctx context.Context, token string) map[string]any {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err == nil {
		_ = s.revoker.RevokeToken(ctx, auth.HashToken(token), time.Unix(claims.Exp, 0))
	}
	return map[string]any{"message": "Logged out"}
}

func (s *Service) issueToken(username string) (string, error) {
	return auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Username: username,
		Exp:      time.Now().Add(s.cfg.TokenTTL).Unix(),
	})
}

// Actor resolves the acting username from a bearer token. Every protected
// operation goes through here first.
func (s *Service) Actor(ctx context.Context, token string) (string, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return "", err
	}
	revoked, err := s.revoker.IsTokenRevoked(ctx, auth.HashToken(token))
	if err != nil {
		return "", fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return "", auth.ErrInvalidToken
	}
	return claims.Username, nil
}

// Ownership guard

func (s *Service) requireFolderOwner(ctx context.Context, actor string, folderID int64) (store.Folder, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Folder{}, notFound("Folder not found")
	}
	if err != nil {
		return store.Folder{}, err
	}
	if folder.Author != actor {
		return store.Folder{}, forbidden("You can only modify your own folders")
	}
	return folder, nil
}

func (s *Service) requireBlogOwner(ctx context.Context, actor string, blogID int64) (store.Blog, error) {
	blog, err := s.store.GetBlog(ctx, blogID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Blog{}, notFound("Blog not found")
	}
	if err != nil {
		return store.Blog{}, err
	}
	if blog.Author != actor {
		return store.Blog{}, forbidden("You can only modify your own blogs")
	}
	return blog, nil
}

// requireOwnFolder checks a folder reference used as a parent or destination.
// A folder that does not exist and a folder owned by someone else both come
// back as NotFound, so foreign folder IDs are not distinguishable from absent
// ones.
func (s *Service) requireOwnFolder(ctx context.Context, actor string, folderID int64) error {
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("Folder not found")
	}
	if err != nil {
		return err
	}
	if folder.Author != actor {
		return notFound("Folder not found")
	}
	return nil
}

// Folders

func (s *Service) CreateFolder(ctx context.Context, actor, name string, parentID *int64) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if parentID != nil {
		if err := s.requireOwnFolder(ctx, actor, *parentID); err != nil {
			return nil, err
		}
	}

	folder, err := s.store.InsertFolder(ctx, name, parentID, actor)
	if err != nil {
		return nil, err
	}
	return folderPayload(folder), nil
}

func (s *Service) RenameFolder(ctx context.Context, actor string, folderID int64, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if _, err := s.requireFolderOwner(ctx, actor, folderID); err != nil {
		return nil, err
	}

	folder, err := s.store.RenameFolder(ctx, folderID, name)
	if err != nil {
		return nil, err
	}
	return folderPayload(folder), nil
}

func (s *Service) DeleteFolder(ctx context.Context, actor string, folderID int64) (map[string]any, error) {
	if _, err := s.requireFolderOwner(ctx, actor, folderID); err != nil {
		return nil, err
	}

	removed, err := s.store.DeleteFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message":         "Folder deleted successfully",
		"removed_folders": removed,
	}, nil
}

func (s *Service) ListFolders(ctx context.Context, actor string) ([]map[string]any, error) {
	folders, err := s.store.ListFolders(ctx, actor)
	if err != nil {
		return nil, err
	}
	return folderPayloads(folders), nil
}

// FolderContents lists the caller's folders and blogs directly inside a
// folder. Ownership filtering happens at the query level: another user's
// folder ID yields empty lists, not an error.
func (s *Service) FolderContents(ctx context.Context, actor string, folderID int64) (map[string]any, error) {
	folders, err := s.store.ListChildFolders(ctx, folderID, actor)
	if err != nil {
		return nil, err
	}
	blogs, err := s.store.ListFolderBlogs(ctx, folderID, actor)
	if err != nil {
		return nil, err
	}
	return contentsPayload(folders, blogs), nil
}

func (s *Service) RootContents(ctx context.Context, actor string) (map[string]any, error) {
	folders, err := s.store.ListRootFolders(ctx, actor)
	if err != nil {
		return nil, err
	}
	blogs, err := s.store.ListRootBlogs(ctx, actor)
	if err != nil {
		return nil, err
	}
	return contentsPayload(folders, blogs), nil
}

// Blogs

func (s *Service) CreateBlog(ctx context.Context, actor, title string, cells []CellInput, folderID *int64) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}
	if cells == nil {
		return nil, validationError("cells is required")
	}
	normalized, err := normalizeCells(cells)
	if err != nil {
		return nil, err
	}
	if folderID != nil {
		if err := s.requireOwnFolder(ctx, actor, *folderID); err != nil {
			return nil, err
		}
	}

	blog, err := s.store.InsertBlog(ctx, title, normalized, actor, folderID)
	if err != nil {
		return nil, err
	}
	return blogPayload(blog), nil
}

func (s *Service) GetBlog(ctx context.Context, blogID int64) (map[string]any, error) {
	blog, err := s.store.GetBlog(ctx, blogID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Blog not found")
	}
	if err != nil {
		return nil, err
	}
	return blogPayload(blog), nil
}

func (s *Service) ListBlogs(ctx context.Context) ([]map[string]any, error) {
	blogs, err := s.store.ListBlogs(ctx)
	if err != nil {
		return nil, err
	}
	return blogPayloads(blogs), nil
}

func (s *Service) ListMyBlogs(ctx context.Context, actor string) ([]map[string]any, error) {
	blogs, err := s.store.ListBlogsByAuthor(ctx, actor)
	if err != nil {
		return nil, err
	}
	return blogPayloads(blogs), nil
}

func (s *Service) ListRootBlogs(ctx context.Context, actor string) ([]map[string]any, error) {
	blogs, err := s.store.ListRootBlogs(ctx, actor)
	if err != nil {
		return nil, err
	}
	return blogPayloads(blogs), nil
}

func (s *Service) ListFolderBlogs(ctx context.Context, actor string, folderID int64) ([]map[string]any, error) {
	blogs, err := s.store.ListFolderBlogs(ctx, folderID, actor)
	if err != nil {
		return nil, err
	}
	return blogPayloads(blogs), nil
}

func (s *Service) UpdateBlog(ctx context.Context, actor string, blogID int64, title string, cells []CellInput, folderID *int64) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}
	if cells == nil {
		return nil, validationError("cells is required")
	}
	normalized, err := normalizeCells(cells)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireBlogOwner(ctx, actor, blogID); err != nil {
		return nil, err
	}
	if folderID != nil {
		if err := s.requireOwnFolder(ctx, actor, *folderID); err != nil {
			return nil, err
		}
	}

	blog, err := s.store.UpdateBlog(ctx, blogID, title, normalized, folderID)
	if err != nil {
		return nil, err
	}
	return blogPayload(blog), nil
}

func (s *Service) MoveBlog(ctx context.Context, actor string, blogID int64, folderID *int64) (map[string]any, error) {
	if _, err := s.requireBlogOwner(ctx, actor, blogID); err != nil {
		return nil, err
	}
	if folderID != nil {
		if err := s.requireOwnFolder(ctx, actor, *folderID); err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateBlogFolder(ctx, blogID, folderID); err != nil {
		return nil, err
	}
	return map[string]any{"message": "Blog moved successfully"}, nil
}

func (s *Service) DeleteBlog(ctx context.Context, actor string, blogID int64) (map[string]any, error) {
	if _, err := s.requireBlogOwner(ctx, actor, blogID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteBlog(ctx, blogID); err != nil {
		return nil, err
	}
	return map[string]any{"message": "Blog deleted successfully"}, nil
}

// Payloads

func folderPayload(f store.Folder) map[string]any {
	return map[string]any{
		"id":         f.ID,
		"name":       f.Name,
		"parent_id":  f.ParentID,
		"author":     f.Author,
		"created_at": f.CreatedAt,
	}
}

func folderPayloads(folders []store.Folder) []map[string]any {
	items := make([]map[string]any, 0, len(folders))
	for _, f := range folders {
		items = append(items, folderPayload(f))
	}
	return items
}

func blogPayload(b store.Blog) map[string]any {
	return map[string]any{
		"id":         b.ID,
		"title":      b.Title,
		"cells":      b.Cells,
		"author":     b.Author,
		"folder_id":  b.FolderID,
		"created_at": b.CreatedAt,
		"updated_at": b.UpdatedAt,
	}
}

func blogPayloads(blogs []store.Blog) []map[string]any {
	items := make([]map[string]any, 0, len(blogs))
	for _, b := range blogs {
		items = append(items, blogPayload(b))
	}
	return items
}

func contentsPayload(folders []store.Folder, blogs []store.Blog) map[string]any {
	folderItems := make([]map[string]any, 0, len(folders))
	for _, f := range folders {
		item := folderPayload(f)
		item["type"] = "folder"
		folderItems = append(folderItems, item)
	}
	blogItems := make([]map[string]any, 0, len(blogs))
	for _, b := range blogs {
		item := blogPayload(b)
		item["type"] = "blog"
		blogItems = append(blogItems, item)
	}
	return map[string]any{
		"folders": folderItems,
		"blogs":   blogItems,
	}
}
